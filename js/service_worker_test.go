package js

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const echoWorker = `
	var seen = [];
	onmessage = function(e) {
		seen.push({data: e.data, origin: e.origin, source: e.source});
		clients.matchAll().then(function(list) {
			list.forEach(function(client) {
				client.postMessage({echo: e.data, client: client.url});
			});
		});
	};
`

func TestServiceWorkerControllerAndMessaging(t *testing.T) {
	h := newTestHost(t)
	page := newTestWindow(t, h, "https://app.example/index.html")
	worker, err := h.RegisterServiceWorker("https://app.example/sw.js", echoWorker, page)
	require.NoError(t, err)
	assert.Equal(t, ScopeServiceWorker, worker.Kind())

	mustExec(t, page, `
		var sw = navigator.serviceWorker.controller;
		var replies = [];
		navigator.serviceWorker.onmessage = function(e) { replies.push(e); };
		sw.postMessage('ping');
	`)
	assert.Equal(t, "https://app.example/sw.js", mustExec(t, page, `sw.scriptURL`).String())
	assert.Equal(t, "activated", mustExec(t, page, `sw.state`).String())
	assert.True(t, mustExec(t, page, `sw instanceof ServiceWorker && sw === navigator.serviceWorker.controller`).ToBoolean())

	runIdle(t, h)

	assert.Equal(t, "ping", mustExec(t, worker, `seen[0].data`).String())
	assert.Equal(t, "https://app.example", mustExec(t, worker, `seen[0].origin`).String())
	assert.True(t, mustExec(t, worker, `seen[0].source === null`).ToBoolean())

	require.Equal(t, int64(1), mustExec(t, page, `replies.length`).ToInteger())
	assert.Equal(t, "ping", mustExec(t, page, `replies[0].data.echo`).String())
	assert.Equal(t, "https://app.example/index.html", mustExec(t, page, `replies[0].data.client`).String())
	assert.Equal(t, "https://app.example", mustExec(t, page, `replies[0].origin`).String())
	assert.True(t, mustExec(t, page, `replies[0].source === sw`).ToBoolean())
	assert.True(t, mustExec(t, page, `replies[0].target === navigator.serviceWorker`).ToBoolean())
}

func TestServiceWorkerSourceKind(t *testing.T) {
	h := newTestHost(t)
	page := newTestWindow(t, h, "https://app.example/")
	_, err := h.RegisterServiceWorker("https://app.example/sw.js", echoWorker, page)
	require.NoError(t, err)

	var records []DeliveryRecord
	h.OnDelivery(func(rec DeliveryRecord) { records = append(records, rec) })

	mustExec(t, page, `navigator.serviceWorker.controller.postMessage(1);`)
	runIdle(t, h)

	require.Len(t, records, 2)
	assert.Equal(t, "serviceworker", records[0].Kind)
	assert.Equal(t, "", records[0].Source)
	assert.Equal(t, "window", records[1].Kind)
	assert.Equal(t, "ServiceWorker", records[1].Source)
}

func TestServiceWorkerNoController(t *testing.T) {
	h := newTestHost(t)
	page := newTestWindow(t, h, "https://app.example/")
	other := newTestWindow(t, h, "https://app.example/other")
	_, err := h.RegisterServiceWorker("https://app.example/sw.js", "", other)
	require.NoError(t, err)

	assert.True(t, mustExec(t, page, `navigator.serviceWorker.controller === null`).ToBoolean())
	assert.False(t, mustExec(t, other, `navigator.serviceWorker.controller === null`).ToBoolean())
}

func TestServiceWorkerRejectsCrossOriginClient(t *testing.T) {
	h := newTestHost(t)
	page := newTestWindow(t, h, "https://other.example/")
	_, err := h.RegisterServiceWorker("https://app.example/sw.js", "", page)
	assert.Error(t, err)
}

func TestServiceWorkerScriptError(t *testing.T) {
	h := newTestHost(t)
	worker, err := h.RegisterServiceWorker("https://app.example/sw.js", "throw new Error('boom')")
	require.Error(t, err)
	require.NotNil(t, worker)
	assert.Len(t, worker.Errors(), 1)
}

func TestServiceWorkerClientsGet(t *testing.T) {
	h := newTestHost(t)
	page := newTestWindow(t, h, "https://app.example/")
	worker, err := h.RegisterServiceWorker("https://app.example/sw.js", "", page)
	require.NoError(t, err)

	worker.VM().Set("clientID", page.ID().String())
	mustExec(t, worker, `
		var found = null, missing = null;
		clients.get(clientID).then(function(c) { found = c; });
		clients.get('nope').then(function(c) { missing = c; });
	`)
	assert.Equal(t, "window", mustExec(t, worker, `found.type`).String())
	assert.Equal(t, page.ID().String(), mustExec(t, worker, `found.id`).String())
	assert.True(t, mustExec(t, worker, `missing === undefined`).ToBoolean())
}

func TestServiceWorkerStateAfterClose(t *testing.T) {
	h := newTestHost(t)
	page := newTestWindow(t, h, "https://app.example/")
	worker, err := h.RegisterServiceWorker("https://app.example/sw.js", "", page)
	require.NoError(t, err)

	mustExec(t, page, `var sw = navigator.serviceWorker.controller;`)
	worker.Close()
	assert.Equal(t, "redundant", mustExec(t, page, `sw.state`).String())
	assert.True(t, mustExec(t, page, `navigator.serviceWorker.controller === null`).ToBoolean())
}
