package js

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindowPostMessageToSelf(t *testing.T) {
	h := newTestHost(t)
	s := newTestWindow(t, h, "https://a.example/page")

	mustExec(t, s, `
		var got = null;
		window.addEventListener('message', function(e) { got = e; });
		window.postMessage('hello', '*');
	`)
	assert.True(t, mustExec(t, s, `got === null`).ToBoolean())

	runIdle(t, h)

	assert.Equal(t, "hello", mustExec(t, s, `got.data`).String())
	assert.Equal(t, "https://a.example", mustExec(t, s, `got.origin`).String())
	assert.True(t, mustExec(t, s, `got.source === window`).ToBoolean())
	assert.True(t, mustExec(t, s, `got.isTrusted`).ToBoolean())
	assert.True(t, mustExec(t, s, `got.ports.length === 0`).ToBoolean())
}

func TestWindowPostMessageTargetOrigin(t *testing.T) {
	tests := []struct {
		name         string
		targetOrigin string
		delivered    bool
	}{
		{"wildcard", `'*'`, true},
		{"slash means own origin", `'/'`, true},
		{"omitted means own origin", `undefined`, true},
		{"matching origin", `'https://a.example'`, true},
		{"matching URL with path", `'https://a.example/other/path?q=1'`, true},
		{"default port elided", `'https://a.example:443'`, true},
		{"different host", `'https://b.example'`, false},
		{"different scheme", `'http://a.example'`, false},
		{"different port", `'https://a.example:8443'`, false},
		{"options bag", `{targetOrigin: 'https://a.example'}`, true},
		{"options bag mismatch", `{targetOrigin: 'https://c.example'}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHost(t)
			s := newTestWindow(t, h, "https://a.example/")
			mustExec(t, s, `
				var count = 0;
				onmessage = function() { count++; };
				postMessage('x', `+tt.targetOrigin+`);
			`)
			runIdle(t, h)

			want := int64(0)
			if tt.delivered {
				want = 1
			}
			assert.Equal(t, want, mustExec(t, s, `count`).ToInteger())
		})
	}
}

func TestWindowPostMessageInvalidTargetOrigin(t *testing.T) {
	h := newTestHost(t)
	s := newTestWindow(t, h, "https://a.example/")

	for _, origin := range []string{`'not a url'`, `'a.example'`, `'data:text/plain,x'`} {
		v := mustExec(t, s, `(function() {
			try { postMessage('x', `+origin+`); return 'no error'; }
			catch (err) { return err.name; }
		})()`)
		assert.Equal(t, "SyntaxError", v.String(), origin)
	}
}

func TestWindowProxyIdentity(t *testing.T) {
	h := newTestHost(t)
	a := newTestWindow(t, h, "https://a.example/")
	b := newTestWindow(t, h, "https://b.example/")

	p1 := a.WindowProxyFor(b)
	p2 := a.WindowProxyFor(b)
	assert.Same(t, p1, p2)
	assert.Same(t, b, p1.Window())
	assert.NotSame(t, p1, b.WindowProxyFor(a))

	self := a.WindowProxyFor(a)
	assert.True(t, self.Object() == a.VM().GlobalObject())

	a.VM().Set("other", p1.Object())
	assert.True(t, mustExec(t, a, `other.self === other && other.window === other`).ToBoolean())
	assert.True(t, mustExec(t, a, `other instanceof Window && window instanceof Window`).ToBoolean())
}

func TestCrossWindowMessageSourceAndOrigin(t *testing.T) {
	h := newTestHost(t)
	a := newTestWindow(t, h, "https://a.example/")
	b := newTestWindow(t, h, "https://b.example:8443/app")

	mustExec(t, b, `
		var got = null;
		onmessage = function(e) {
			got = e;
			e.source.postMessage('pong', e.origin);
		};
	`)
	a.VM().Set("other", a.WindowProxyFor(b).Object())
	mustExec(t, a, `
		var reply = null;
		onmessage = function(e) { reply = e; };
		other.postMessage({ping: 1}, 'https://b.example:8443');
	`)

	runIdle(t, h)

	assert.Equal(t, "https://a.example", mustExec(t, b, `got.origin`).String())
	assert.Equal(t, int64(1), mustExec(t, b, `got.data.ping`).ToInteger())
	assert.True(t, mustExec(t, b, `got.source instanceof Window && got.source !== window`).ToBoolean())

	assert.Equal(t, "pong", mustExec(t, a, `reply.data`).String())
	assert.Equal(t, "https://b.example:8443", mustExec(t, a, `reply.origin`).String())
	assert.True(t, mustExec(t, a, `reply.source === other`).ToBoolean())
}

func TestWindowOpen(t *testing.T) {
	h := newTestHost(t)
	s := newTestWindow(t, h, "https://a.example/index.html")

	mustExec(t, s, `
		var child = open('/child.html');
		var reply = null;
		onmessage = function(e) { reply = e.data; };
	`)

	scopes := h.Scopes()
	require.Len(t, scopes, 2)
	child := scopes[1]
	assert.Equal(t, "https://a.example/child.html", child.URL())
	assert.Equal(t, "https://a.example", child.Origin())

	mustExec(t, child, `opener.postMessage('hi from child', '*');`)
	runIdle(t, h)
	assert.Equal(t, "hi from child", mustExec(t, s, `reply`).String())
	assert.True(t, mustExec(t, child, `opener.opener === null`).ToBoolean())
	assert.True(t, mustExec(t, s, `opener === null`).ToBoolean())

	assert.False(t, mustExec(t, s, `child.closed`).ToBoolean())
	mustExec(t, s, `child.close();`)
	assert.True(t, mustExec(t, s, `child.closed`).ToBoolean())
	assert.Len(t, h.Scopes(), 1)
}

func TestWindowPostMessageToClosedWindowIsDropped(t *testing.T) {
	h := newTestHost(t)
	a := newTestWindow(t, h, "https://a.example/")
	b := newTestWindow(t, h, "https://a.example/b")

	proxy := a.WindowProxyFor(b)
	b.Close()
	require.NoError(t, proxy.PostMessage(a.VM().ToValue(1), "*", nil))
	assert.Equal(t, 0, runIdle(t, h))
}

func TestWindowPostMessageTransferBadValue(t *testing.T) {
	h := newTestHost(t)
	s := newTestWindow(t, h, "https://a.example/")

	v := mustExec(t, s, `(function() {
		try { postMessage('x', '*', [{}]); return 'no error'; }
		catch (err) { return err.name; }
	})()`)
	assert.Equal(t, "DataCloneError", v.String())
}
