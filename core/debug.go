package core

// DebugWriter is a function type for writing debug messages
type DebugWriter func(string)

// Event is one entry of the post-mortem event ring.
type Event struct {
	Code   uint8  // Evt* code
	OID    uint8  // Session or axis
	Clock  uint32 // System clock at event
	Value1 uint32 // Code-dependent
	Value2 uint32 // Code-dependent
}

// Event codes
const (
	EvtSCCState    = 1 // v1 = new commissioning state, v2 = fault mask
	EvtOTTState    = 2 // v1 = new tuning state
	EvtFault       = 3 // v1 = fault mask, v2 = source state
	EvtOverCurrent = 4 // v1 = state that tripped, v2 = retry number
	EvtCommand     = 5 // v1 = command byte, v2 = status
	EvtPolePairs   = 6 // v1 = detected pole pairs
	EvtDriveMode   = 7 // v1 = new drive mode
)

const (
	EventRingSize = 32 // Keep last 32 events for post-mortem
)

var (
	// debugPrintln is the global debug print function (can be set by platform code)
	debugPrintln DebugWriter = func(s string) {} // No-op by default

	// debugEnabled controls whether debug output is active
	debugEnabled bool = false

	eventRing     [EventRingSize]Event
	eventRingHead uint8
	eventsEnabled bool = true

	// Async debug output channel
	debugChan chan string
)

// SetDebugWriter sets the platform-specific debug output function
// This allows platforms to redirect debug output to UART, USB, etc.
func SetDebugWriter(writer DebugWriter) {
	debugPrintln = writer
}

// SetDebugEnabled enables or disables debug output
func SetDebugEnabled(enabled bool) {
	debugEnabled = enabled
}

// IsDebugEnabled returns whether debug output is enabled
func IsDebugEnabled() bool {
	return debugEnabled
}

// InitAsyncDebug starts the async debug output goroutine
// Call this from main() after SetDebugWriter
func InitAsyncDebug() {
	debugChan = make(chan string, 16)
	go debugOutputWorker()
}

func debugOutputWorker() {
	for msg := range debugChan {
		if debugPrintln != nil {
			debugPrintln(msg)
		}
	}
}

// DebugPrintln writes a debug message using the platform-specific writer
// Blocks if debug is enabled (use DebugAsync from the control loops)
func DebugPrintln(msg string) {
	if debugEnabled && debugPrintln != nil {
		debugPrintln(msg)
	}
}

// DebugAsync queues a debug message for async output (non-blocking)
// Returns immediately even if channel is full (drops message)
func DebugAsync(msg string) {
	if debugEnabled && debugChan != nil {
		select {
		case debugChan <- msg:
		default:
		}
	}
}

// RecordEvent captures an event in the ring buffer. It never blocks and is
// safe to call from the FOC interrupt.
func RecordEvent(code, oid uint8, clock, value1, value2 uint32) {
	if !eventsEnabled {
		return
	}
	state := disableInterrupts()
	idx := eventRingHead
	eventRing[idx] = Event{
		Code:   code,
		OID:    oid,
		Clock:  clock,
		Value1: value1,
		Value2: value2,
	}
	eventRingHead = (idx + 1) % EventRingSize
	restoreInterrupts(state)
}

// Events returns the recorded events, oldest first.
func Events() []Event {
	state := disableInterrupts()
	defer restoreInterrupts(state)
	out := make([]Event, 0, EventRingSize)
	for i := uint8(0); i < EventRingSize; i++ {
		evt := eventRing[(eventRingHead+i)%EventRingSize]
		if evt.Code != 0 {
			out = append(out, evt)
		}
	}
	return out
}

func eventName(code uint8) string {
	switch code {
	case EvtSCCState:
		return "SCC_STATE"
	case EvtOTTState:
		return "OTT_STATE"
	case EvtFault:
		return "FAULT!"
	case EvtOverCurrent:
		return "OVER_CURRENT"
	case EvtCommand:
		return "SCC_CMD"
	case EvtPolePairs:
		return "POLE_PAIRS"
	case EvtDriveMode:
		return "DRIVE_MODE"
	}
	return "UNKNOWN"
}

// DumpEventRing outputs the event ring (call on shutdown/error)
func DumpEventRing() {
	if debugPrintln == nil {
		return
	}
	debugPrintln("[EVENTS] === Event Ring Dump ===")
	for _, evt := range Events() {
		debugPrintln("[EVENTS] " + eventName(evt.Code) +
			" oid=" + itoa(int(evt.OID)) +
			" clock=" + utoa(evt.Clock) +
			" v1=" + utoa(evt.Value1) +
			" v2=" + utoa(evt.Value2))
	}
	debugPrintln("[EVENTS] === End Dump ===")
}

// ClearEventRing clears the event buffer
func ClearEventRing() {
	state := disableInterrupts()
	for i := range eventRing {
		eventRing[i] = Event{}
	}
	eventRingHead = 0
	restoreInterrupts(state)
}
