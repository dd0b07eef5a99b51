package js

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chrisuehlinger/postmessage/internal/logging"
)

func TestHostRunUntilIdleRoundRobin(t *testing.T) {
	h := newTestHost(t)
	a := newTestWindow(t, h, "https://a.example/")
	b := newTestWindow(t, h, "https://b.example/")

	var order []string
	a.VM().Set("record", func(name string) { order = append(order, name) })
	b.VM().Set("record", func(name string) { order = append(order, name) })

	mustExec(t, a, `onmessage = function(e) { record('a' + e.data); }; postMessage(1, '*'); postMessage(2, '*');`)
	mustExec(t, b, `onmessage = function(e) { record('b' + e.data); }; postMessage(1, '*'); postMessage(2, '*');`)

	n := runIdle(t, h)
	assert.Equal(t, 4, n)
	assert.Equal(t, []string{"a1", "b1", "a2", "b2"}, order)

	assert.Equal(t, 0, runIdle(t, h), "nothing left to run")
}

func TestHostTaskLimit(t *testing.T) {
	h := NewHost(HostOptions{Logger: logging.Discard(), MaxTasksPerTurn: 5})
	t.Cleanup(h.Close)
	s := newTestWindow(t, h, "https://a.example/")

	mustExec(t, s, `var ticks = 0; setInterval(function() { ticks++; }, 1);`)

	n, err := h.RunUntilIdle()
	assert.ErrorIs(t, err, ErrTaskLimit)
	assert.Equal(t, 5, n)
	assert.Equal(t, int64(5), mustExec(t, s, "ticks").ToInteger())

	// The next call gets a fresh budget.
	n, err = h.RunUntilIdle()
	assert.ErrorIs(t, err, ErrTaskLimit)
	assert.Equal(t, 5, n)
	assert.Equal(t, int64(10), mustExec(t, s, "ticks").ToInteger())
}

func TestHostPingPongStopsAtLimit(t *testing.T) {
	h := NewHost(HostOptions{Logger: logging.Discard(), MaxTasksPerTurn: 10})
	t.Cleanup(h.Close)
	s := newTestWindow(t, h, "https://a.example/")

	mustExec(t, s, `
		var ch = new MessageChannel();
		ch.port1.onmessage = function(e) { ch.port1.postMessage(e.data + 1); };
		ch.port2.onmessage = function(e) { ch.port2.postMessage(e.data + 1); };
		ch.port1.postMessage(0);
	`)
	_, err := h.RunUntilIdle()
	assert.ErrorIs(t, err, ErrTaskLimit)
}

func TestHostScopes(t *testing.T) {
	h := newTestHost(t)
	a := newTestWindow(t, h, "https://a.example/")
	b := newTestWindow(t, h, "https://b.example/")
	w, err := h.RegisterServiceWorker("https://a.example/sw.js", "", a)
	require.NoError(t, err)

	assert.Equal(t, []*GlobalScope{a, b, w}, h.Scopes())

	b.Close()
	assert.Equal(t, []*GlobalScope{a, w}, h.Scopes())
	assert.Same(t, h, a.Host())
}

func TestHostClose(t *testing.T) {
	h := NewHost(HostOptions{Logger: logging.Discard()})
	a, err := h.NewWindow("https://a.example/")
	require.NoError(t, err)

	mustExec(t, a, `var ch = new MessageChannel(); ch.port1.postMessage('x');`)
	h.Close()

	assert.True(t, a.Closed())
	assert.Empty(t, h.Scopes())
	assert.Empty(t, h.ports)
	n, err := h.RunUntilIdle()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestHostDefaults(t *testing.T) {
	h := NewHost(HostOptions{})
	t.Cleanup(h.Close)

	assert.Equal(t, "about:blank", h.openURL)
	assert.Equal(t, 0, h.maxMessageBytes)
	assert.Equal(t, DefaultMaxTasksPerTurn, h.maxTasksPerTurn)
	assert.Equal(t, 0.0, h.Clock())
}

func TestHostDefaultBudgetStopsInterval(t *testing.T) {
	h := NewHost(HostOptions{Logger: logging.Discard()})
	t.Cleanup(h.Close)
	s := newTestWindow(t, h, "https://a.example/")

	mustExec(t, s, `var ticks = 0; setInterval(function() { ticks++; }, 1);`)

	ran, err := h.RunUntilIdle()
	assert.ErrorIs(t, err, ErrTaskLimit)
	assert.Equal(t, DefaultMaxTasksPerTurn, ran)
	assert.Equal(t, int64(DefaultMaxTasksPerTurn), mustExec(t, s, `ticks`).ToInteger())
}

func TestHostDeliveryObserver(t *testing.T) {
	h := newTestHost(t)
	a := newTestWindow(t, h, "https://a.example/")

	var records []DeliveryRecord
	h.OnDelivery(func(rec DeliveryRecord) { records = append(records, rec) })

	mustExec(t, a, `postMessage({hello: 'world'}, '*');`)
	runIdle(t, h)

	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, "window", rec.Kind)
	assert.Equal(t, "message", rec.Type)
	assert.Equal(t, "https://a.example", rec.Origin)
	assert.Equal(t, "WindowProxy", rec.Source)
	assert.Equal(t, `{"hello":"world"}`, rec.Data)
	assert.True(t, rec.Trusted)
	assert.Equal(t, a.ID().String()[:8], rec.Scope)
}
