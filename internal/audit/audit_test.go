package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSink struct {
	count atomic.Int64
}

func (s *countingSink) Emit(context.Context, Event) {
	s.count.Add(1)
}

type gateSink struct {
	gate chan struct{}
}

func (s *gateSink) Emit(context.Context, Event) {
	<-s.gate
}

func TestDisabledDispatcherIsNil(t *testing.T) {
	d := NewDispatcher(Config{Enabled: false}, &countingSink{})
	require.Nil(t, d)

	// nil receivers are safe
	d.Emit(context.Background(), Event{Type: "x"})
	d.Close()
	assert.Zero(t, d.Dropped())
}

func TestDispatcherDeliversAndFlushesOnClose(t *testing.T) {
	sink := &countingSink{}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 64}, sink)

	for i := 0; i < 50; i++ {
		d.Emit(context.Background(), Event{Type: "login_success"})
	}
	d.Close()

	assert.EqualValues(t, 50, sink.count.Load())
	assert.EqualValues(t, 50, d.Delivered())
	assert.Zero(t, d.Dropped())

	d.Emit(context.Background(), Event{Type: "after_close"})
	assert.EqualValues(t, 50, sink.count.Load())
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	sink := &gateSink{gate: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	// first event is picked up by the loop and blocks in the sink,
	// the second fills the buffer, the rest are dropped
	d.Emit(context.Background(), Event{Type: "a"})
	require.Eventually(t, func() bool { return len(d.queue) == 0 }, time.Second, time.Millisecond)
	d.Emit(context.Background(), Event{Type: "b"})
	for i := 0; i < 5; i++ {
		d.Emit(context.Background(), Event{Type: "c"})
	}

	assert.EqualValues(t, 5, d.Dropped())
	close(sink.gate)
	d.Close()
}

func TestDispatcherBlockingModeHonoursContext(t *testing.T) {
	sink := &gateSink{gate: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1}, sink)

	d.Emit(context.Background(), Event{Type: "a"})
	require.Eventually(t, func() bool { return len(d.queue) == 0 }, time.Second, time.Millisecond)
	d.Emit(context.Background(), Event{Type: "b"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	d.Emit(ctx, Event{Type: "c"})
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
	assert.EqualValues(t, 1, d.Dropped())

	close(sink.gate)
	d.Close()
}

func TestJSONWriterSinkWritesLines(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)

	sink.Emit(context.Background(), Event{Type: "logout", SubjectID: "u1", Success: true})
	sink.Emit(context.Background(), Event{Type: "login_failure", Error: "invalid_credentials"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var first Event
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "logout", first.Type)
	assert.Equal(t, "u1", first.SubjectID)
	assert.True(t, first.Success)
	assert.Contains(t, lines[1], `"error":"invalid_credentials"`)
}

func TestSlogSinkLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	sink := NewSlogSink(logger)

	sink.Emit(context.Background(), Event{Type: "login_failure", Success: false, Metadata: map[string]string{"reason": "password_mismatch"}})

	out := buf.String()
	assert.Contains(t, out, `"level":"WARN"`)
	assert.Contains(t, out, `"type":"login_failure"`)
	assert.Contains(t, out, `"meta.reason":"password_mismatch"`)
}
