package js

import (
	"testing"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/require"

	"github.com/chrisuehlinger/postmessage/internal/logging"
)

func newTestHost(t *testing.T) *Host {
	t.Helper()
	h := NewHost(HostOptions{
		Logger:          logging.Discard(),
		MaxMessageBytes: 1 << 20,
		MaxTasksPerTurn: 1000,
	})
	t.Cleanup(h.Close)
	return h
}

func newTestWindow(t *testing.T, h *Host, url string) *GlobalScope {
	t.Helper()
	s, err := h.NewWindow(url)
	require.NoError(t, err)
	return s
}

func mustExec(t *testing.T, s *GlobalScope, code string) goja.Value {
	t.Helper()
	v, err := s.Execute(code)
	require.NoError(t, err)
	return v
}

func runIdle(t *testing.T, h *Host) int {
	t.Helper()
	n, err := h.RunUntilIdle()
	require.NoError(t, err)
	return n
}

// recordingTracer collects the names of everything visited.
type recordingTracer struct {
	values  map[string][]goja.Value
	objects map[string][]DOMObject
}

func newRecordingTracer() *recordingTracer {
	return &recordingTracer{
		values:  make(map[string][]goja.Value),
		objects: make(map[string][]DOMObject),
	}
}

func (r *recordingTracer) TraceValue(name string, v goja.Value) {
	r.values[name] = append(r.values[name], v)
}

func (r *recordingTracer) TraceObject(name string, obj DOMObject) {
	r.objects[name] = append(r.objects[name], obj)
}
