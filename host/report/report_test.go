package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/edaniels/golog"
	"go.uber.org/multierr"

	"motorprofiler/profiler"
	"motorprofiler/profiler/config"
)

type failingSink struct {
	published int
	err       error
}

func (f *failingSink) Publish(profiler.Result) error {
	f.published++
	return f.err
}

func (f *failingSink) Close() error { return f.err }

func TestWriterPublishesJSONLines(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.Publish(profiler.Result{Mode: "idle", RsOhm: 0.5, PolePairs: 4})
	w.Publish(profiler.Result{Mode: "drive"})

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 2 {
		t.Fatalf("Expected 2 lines, got %d", len(lines))
	}
	var r profiler.Result
	if err := json.Unmarshal(lines[0], &r); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if r.Mode != "idle" || r.RsOhm != 0.5 || r.PolePairs != 4 {
		t.Errorf("Unexpected result %+v", r)
	}
	if err := w.Close(); err != nil {
		t.Errorf("Expected no error closing a buffer, got %v", err)
	}
}

func TestMultiReachesEverySink(t *testing.T) {
	a := &failingSink{err: errors.New("broker down")}
	b := &failingSink{}
	c := &failingSink{err: errors.New("disk full")}
	m := Multi{a, b, c}

	err := m.Publish(profiler.Result{})
	if a.published != 1 || b.published != 1 || c.published != 1 {
		t.Errorf("Expected every sink to publish once, got %d %d %d", a.published, b.published, c.published)
	}
	if n := len(multierr.Errors(err)); n != 2 {
		t.Errorf("Expected 2 combined errors, got %d (%v)", n, err)
	}
	if n := len(multierr.Errors(m.Close())); n != 2 {
		t.Errorf("Expected 2 close errors, got %d", n)
	}
	if err := (Multi{b}).Publish(profiler.Result{}); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
}

func TestMQTTNeedsBroker(t *testing.T) {
	if _, err := NewMQTT(config.HostConfig{}, golog.NewTestLogger(t)); err != ErrNoBroker {
		t.Errorf("Expected ErrNoBroker, got %v", err)
	}
}
