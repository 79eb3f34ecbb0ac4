package profiler

import (
	"strconv"

	"motorprofiler/core"
)

// Logger is the structured logger of a session. golog.Logger satisfies it.
type Logger interface {
	Infow(msg string, keysAndValues ...interface{})
	Errorw(msg string, keysAndValues ...interface{})
}

// debugLogger writes to the firmware debug channel without blocking.
type debugLogger struct{}

func (debugLogger) Infow(msg string, kv ...interface{}) {
	if core.IsDebugEnabled() {
		core.DebugAsync(formatKV("[profiler] "+msg, kv))
	}
}

func (debugLogger) Errorw(msg string, kv ...interface{}) {
	if core.IsDebugEnabled() {
		core.DebugAsync(formatKV("[profiler] ERROR "+msg, kv))
	}
}

func formatKV(msg string, kv []interface{}) string {
	b := []byte(msg)
	for i := 0; i+1 < len(kv); i += 2 {
		key, _ := kv[i].(string)
		b = append(b, ' ')
		b = append(b, key...)
		b = append(b, '=')
		switch v := kv[i+1].(type) {
		case string:
			b = append(b, v...)
		case bool:
			b = strconv.AppendBool(b, v)
		case int:
			b = strconv.AppendInt(b, int64(v), 10)
		case int16:
			b = strconv.AppendInt(b, int64(v), 10)
		case int32:
			b = strconv.AppendInt(b, int64(v), 10)
		case uint8:
			b = strconv.AppendUint(b, uint64(v), 10)
		case uint16:
			b = strconv.AppendUint(b, uint64(v), 10)
		case uint32:
			b = strconv.AppendUint(b, uint64(v), 10)
		case float32:
			b = strconv.AppendFloat(b, float64(v), 'g', 5, 32)
		default:
			b = append(b, '?')
		}
	}
	return string(b)
}
