package js

import (
	"testing"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageChannelRoundTrip(t *testing.T) {
	h := newTestHost(t)
	s := newTestWindow(t, h, "https://a.example/")

	mustExec(t, s, `
		var ch = new MessageChannel();
		var received = [];
		ch.port2.onmessage = function(e) {
			received.push({data: e.data, origin: e.origin, source: e.source, target: e.target === ch.port2});
		};
		ch.port1.postMessage({greeting: 'hello'});
		ch.port1.postMessage(2);
	`)
	assert.Equal(t, int64(0), mustExec(t, s, `received.length`).ToInteger(), "delivery is asynchronous")

	runIdle(t, h)

	assert.Equal(t, int64(2), mustExec(t, s, `received.length`).ToInteger())
	assert.Equal(t, "hello", mustExec(t, s, `received[0].data.greeting`).String())
	assert.Equal(t, int64(2), mustExec(t, s, `received[1].data`).ToInteger())
	assert.True(t, mustExec(t, s, `received[0].origin === '' && received[0].source === null && received[0].target`).ToBoolean())
}

func TestMessagePortQueuesUntilStarted(t *testing.T) {
	h := newTestHost(t)
	s := newTestWindow(t, h, "https://a.example/")

	mustExec(t, s, `
		var ch = new MessageChannel();
		var count = 0;
		ch.port2.addEventListener('message', function() { count++; });
		ch.port1.postMessage('a');
		ch.port1.postMessage('b');
	`)
	runIdle(t, h)
	assert.Equal(t, int64(0), mustExec(t, s, `count`).ToInteger())

	mustExec(t, s, `ch.port2.start();`)
	runIdle(t, h)
	assert.Equal(t, int64(2), mustExec(t, s, `count`).ToInteger())
}

func TestMessagePortDataIsCloned(t *testing.T) {
	h := newTestHost(t)
	s := newTestWindow(t, h, "https://a.example/")

	mustExec(t, s, `
		var ch = new MessageChannel();
		var sent = {list: [1, 2]};
		var got;
		ch.port2.onmessage = function(e) { got = e.data; };
		ch.port1.postMessage(sent);
		sent.list.push(3);
	`)
	runIdle(t, h)

	assert.True(t, mustExec(t, s, `got !== sent`).ToBoolean())
	assert.Equal(t, int64(2), mustExec(t, s, `got.list.length`).ToInteger())
}

func TestMessagePortClose(t *testing.T) {
	h := newTestHost(t)
	s := newTestWindow(t, h, "https://a.example/")

	mustExec(t, s, `
		var ch = new MessageChannel();
		var count = 0;
		ch.port2.onmessage = function() { count++; };
		ch.port1.postMessage('queued');
		ch.port2.close();
		ch.port1.postMessage('after close');
	`)
	runIdle(t, h)

	assert.Equal(t, int64(0), mustExec(t, s, `count`).ToInteger())
}

func TestMessagePortTransfer(t *testing.T) {
	h := newTestHost(t)
	a := newTestWindow(t, h, "https://a.example/")
	b := newTestWindow(t, h, "https://b.example/")

	mustExec(t, b, `
		var replies = [];
		var port = null;
		onmessage = function(e) {
			port = e.ports[0];
			port.onmessage = function(ev) { replies.push(ev.data); };
			port.postMessage('ready');
		};
	`)

	proxy := a.WindowProxyFor(b)
	a.VM().Set("other", proxy.Object())
	mustExec(t, a, `
		var ch = new MessageChannel();
		var answers = [];
		ch.port1.onmessage = function(e) { answers.push(e.data); };
		other.postMessage('port for you', '*', [ch.port2]);
		ch.port1.postMessage('first');
	`)

	runIdle(t, h)

	assert.Equal(t, "ready", mustExec(t, a, `answers[0]`).String())
	assert.Equal(t, "first", mustExec(t, b, `replies[0]`).String())
	assert.True(t, mustExec(t, b, `port instanceof MessagePort`).ToBoolean())
}

func TestMessagePortTransferDetachesSender(t *testing.T) {
	h := newTestHost(t)
	s := newTestWindow(t, h, "https://a.example/")

	v := mustExec(t, s, `
		var ch = new MessageChannel();
		var carrier = new MessageChannel();
		carrier.port1.postMessage(null, [ch.port2]);
		var second;
		try { carrier.port1.postMessage(null, [ch.port2]); second = 'ok'; }
		catch (err) { second = err.name; }
		second;
	`)
	assert.Equal(t, "DataCloneError", v.String())
}

func TestMessagePortPostErrors(t *testing.T) {
	h := newTestHost(t)
	s := newTestWindow(t, h, "https://a.example/")
	mustExec(t, s, `var ch = new MessageChannel();`)

	tests := []struct {
		name string
		code string
		want string
	}{
		{"function payload", `ch.port1.postMessage(function() {})`, "DataCloneError"},
		{"symbol payload", `ch.port1.postMessage(Symbol('x'))`, "DataCloneError"},
		{"port without transfer", `ch.port1.postMessage(ch.port2)`, "DataCloneError"},
		{"transfer self", `ch.port1.postMessage(null, [ch.port1])`, "DataCloneError"},
		{"transfer non-port", `ch.port1.postMessage(null, [{}])`, "DataCloneError"},
		{"duplicate transfer", `var c2 = new MessageChannel(); ch.port1.postMessage(null, [c2.port1, c2.port1])`, "DataCloneError"},
		{"no arguments", `ch.port1.postMessage()`, "TypeError"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := mustExec(t, s, `(function() {
				try { `+tt.code+`; return 'no error'; }
				catch (err) { return err.name; }
			})()`)
			assert.Equal(t, tt.want, v.String())
		})
	}
}

func TestMessagePortDataCloneErrorIsDOMException(t *testing.T) {
	h := newTestHost(t)
	s := newTestWindow(t, h, "https://a.example/")

	v := mustExec(t, s, `
		var ch = new MessageChannel();
		var result;
		try { ch.port1.postMessage(function() {}); }
		catch (err) { result = err instanceof DOMException && err.code === 25; }
		result;
	`)
	assert.True(t, v.ToBoolean())
}

func TestMessagePortGoAPI(t *testing.T) {
	h := newTestHost(t)
	s := newTestWindow(t, h, "https://a.example/")

	ch := s.NewMessageChannel()
	assert.NotEqual(t, ch.Port1().ID(), ch.Port2().ID())
	assert.True(t, ch.Port1().Entangled())
	assert.True(t, ch.Port2().Entangled())

	var got []string
	ch.Port2().EventTarget().Listen("message", func(ev EventObject) {
		got = append(got, ev.(*MessageEvent).Data().String())
	})
	ch.Port2().Start()

	require.NoError(t, ch.Port1().PostMessage(s.VM().ToValue("from go"), nil))
	runIdle(t, h)
	assert.Equal(t, []string{"from go"}, got)

	ch.Port1().Close()
	assert.False(t, ch.Port1().Entangled())
	assert.False(t, ch.Port2().Entangled())
	require.NoError(t, ch.Port1().PostMessage(s.VM().ToValue("dropped"), nil))
	runIdle(t, h)
	assert.Len(t, got, 1)
}

func TestMessagePortOversizedMessageFiresMessageError(t *testing.T) {
	h := NewHost(HostOptions{MaxMessageBytes: 64})
	t.Cleanup(h.Close)
	s := newTestWindow(t, h, "https://a.example/")

	mustExec(t, s, `
		var ch = new MessageChannel();
		var messages = 0, errors = 0;
		ch.port2.onmessage = function() { messages++; };
		ch.port2.onmessageerror = function(e) { errors++; };
		ch.port1.postMessage('small');
		ch.port1.postMessage(new Array(100).join('x'));
	`)
	runIdle(t, h)

	assert.Equal(t, int64(1), mustExec(t, s, `messages`).ToInteger())
	assert.Equal(t, int64(1), mustExec(t, s, `errors`).ToInteger())
}

func scriptPort(t *testing.T, s *GlobalScope, expr string) *MessagePort {
	t.Helper()
	p, ok := s.unwrapHost(mustExec(t, s, expr)).(*MessagePort)
	require.True(t, ok, "%s is not a MessagePort", expr)
	return p
}

func TestMessagePortTransferredInOversizedMessageIsDisentangled(t *testing.T) {
	h := NewHost(HostOptions{MaxMessageBytes: 64})
	t.Cleanup(h.Close)
	s := newTestWindow(t, h, "https://a.example/")

	mustExec(t, s, `
		var carrier = new MessageChannel();
		var ch = new MessageChannel();
		var errors = 0;
		carrier.port2.onmessage = function() {};
		carrier.port2.onmessageerror = function() { errors++; };
		carrier.port1.postMessage(new Array(200).join('x'), [ch.port2]);
		ch.port1.postMessage('after');
	`)
	peer := scriptPort(t, s, `ch.port1`)
	transferred := scriptPort(t, s, `ch.port2`).ID()
	require.True(t, peer.Entangled())

	runIdle(t, h)

	assert.Equal(t, int64(1), mustExec(t, s, `errors`).ToInteger())
	assert.False(t, peer.Entangled())
	assert.NotContains(t, h.ports, transferred)
}

func TestMessagePortTransferredToClosedWindowIsDisentangled(t *testing.T) {
	h := newTestHost(t)
	s := newTestWindow(t, h, "https://a.example/")

	mustExec(t, s, `
		var w = open('https://b.example/');
		w.close();
		var ch = new MessageChannel();
		w.postMessage('x', '*', [ch.port2]);
	`)
	assert.False(t, scriptPort(t, s, `ch.port1`).Entangled())
}

func TestMessagePortTransferredToWindowClosedBeforeDelivery(t *testing.T) {
	h := newTestHost(t)
	a := newTestWindow(t, h, "https://a.example/")
	b := newTestWindow(t, h, "https://b.example/")

	ch := a.NewMessageChannel()
	require.NoError(t, a.WindowProxyFor(b).PostMessage(a.VM().ToValue("x"), "*", []goja.Value{ch.Port2().Object()}))
	require.True(t, ch.Port1().Entangled())

	b.Close()
	assert.False(t, ch.Port1().Entangled())
	assert.Equal(t, 0, runIdle(t, h))
}

func TestMessagePortTransferredFromClosedPortIsDisentangled(t *testing.T) {
	h := newTestHost(t)
	s := newTestWindow(t, h, "https://a.example/")

	mustExec(t, s, `
		var carrier = new MessageChannel();
		var ch = new MessageChannel();
		carrier.port1.close();
		carrier.port1.postMessage('x', [ch.port2]);
	`)
	assert.False(t, scriptPort(t, s, `ch.port1`).Entangled())
	assert.True(t, scriptPort(t, s, `ch.port2`).Detached())
}

func TestMessagePortClosedWithQueuedTransfer(t *testing.T) {
	h := newTestHost(t)
	s := newTestWindow(t, h, "https://a.example/")

	mustExec(t, s, `
		var carrier = new MessageChannel();
		var ch = new MessageChannel();
		carrier.port1.postMessage('x', [ch.port2]);
	`)
	runIdle(t, h)
	peer := scriptPort(t, s, `ch.port1`)
	require.True(t, peer.Entangled(), "carrier.port2 is not started, so the message stays queued")

	mustExec(t, s, `carrier.port2.close()`)
	assert.False(t, peer.Entangled())
}
