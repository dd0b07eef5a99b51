package js

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/chrisuehlinger/postmessage/internal/logging"
)

// DefaultMaxTasksPerTurn is the RunUntilIdle task budget used when
// HostOptions leaves it unset.
const DefaultMaxTasksPerTurn = 1024

// HostOptions configures a Host.
type HostOptions struct {
	// MaxMessageBytes bounds a serialized message; 0 means no limit.
	MaxMessageBytes int
	// MaxTasksPerTurn bounds one RunUntilIdle call; 0 means
	// DefaultMaxTasksPerTurn.
	MaxTasksPerTurn int
	// OpenURL is opened by window.open() without a URL.
	OpenURL string
	Logger  *logging.Logger
}

// DeliveryRecord describes one message event fired by the host.
type DeliveryRecord struct {
	Scope   string `json:"scope" yaml:"scope"`
	Kind    string `json:"kind" yaml:"kind"`
	URL     string `json:"url" yaml:"url"`
	Type    string `json:"type" yaml:"type"`
	Origin  string `json:"origin" yaml:"origin"`
	Source  string `json:"source,omitempty" yaml:"source,omitempty"`
	Ports   int    `json:"ports" yaml:"ports"`
	Data    string `json:"data" yaml:"data"`
	Trusted bool   `json:"trusted" yaml:"trusted"`
}

// Host owns a group of scopes that can message each other: windows,
// service workers, the port router and worker registrations. A Host and
// its scopes must be driven from a single goroutine.
type Host struct {
	logger          *logging.Logger
	maxMessageBytes int
	maxTasksPerTurn int
	openURL         string

	clock    float64
	timerSeq uint64

	scopes        []*GlobalScope
	ports         map[uuid.UUID]*portEntry
	registrations []*serviceWorkerRegistration
	observers     []func(DeliveryRecord)
}

// NewHost creates an empty host.
func NewHost(opts HostOptions) *Host {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	openURL := opts.OpenURL
	if openURL == "" {
		openURL = "about:blank"
	}
	maxTasks := opts.MaxTasksPerTurn
	if maxTasks <= 0 {
		maxTasks = DefaultMaxTasksPerTurn
	}
	return &Host{
		logger:          logger.With("component", "host"),
		maxMessageBytes: opts.MaxMessageBytes,
		maxTasksPerTurn: maxTasks,
		openURL:         openURL,
		ports:           make(map[uuid.UUID]*portEntry),
	}
}

// NewWindow creates a window scope whose origin is taken from rawURL.
func (h *Host) NewWindow(rawURL string) (*GlobalScope, error) {
	s, err := newGlobalScope(h, ScopeWindow, rawURL)
	if err != nil {
		return nil, err
	}
	h.scopes = append(h.scopes, s)
	h.logger.Debug("window created", "scope", s.id.String()[:8], "url", rawURL, "origin", s.origin)
	return s, nil
}

// RegisterServiceWorker creates a worker scope for scriptURL, runs script in
// it and makes it the controller of clients. Clients must share the
// worker's origin.
func (h *Host) RegisterServiceWorker(scriptURL, script string, clients ...*GlobalScope) (*GlobalScope, error) {
	worker, err := newGlobalScope(h, ScopeServiceWorker, scriptURL)
	if err != nil {
		return nil, err
	}
	for _, c := range clients {
		if c.kind != ScopeWindow {
			return nil, fmt.Errorf("service worker client %s is not a window", c.id)
		}
		if c.origin != worker.origin {
			return nil, fmt.Errorf("client origin %s does not match service worker origin %s", c.origin, worker.origin)
		}
	}

	reg := &serviceWorkerRegistration{scriptURL: scriptURL, worker: worker, clients: clients}
	h.scopes = append(h.scopes, worker)
	h.registrations = append(h.registrations, reg)
	h.logger.Debug("service worker registered", "script", scriptURL, "clients", len(clients))

	if script != "" {
		if err := worker.ExecuteScript(script, scriptURL); err != nil {
			return worker, fmt.Errorf("service worker script %s: %w", scriptURL, err)
		}
	}
	return worker, nil
}

// Scopes returns the open scopes in creation order.
func (h *Host) Scopes() []*GlobalScope {
	out := make([]*GlobalScope, 0, len(h.scopes))
	for _, s := range h.scopes {
		if !s.closed {
			out = append(out, s)
		}
	}
	return out
}

// RunUntilIdle runs queued tasks round-robin across scopes until none are
// left. It returns the number of tasks run, and ErrTaskLimit if the
// per-call budget ran out first.
func (h *Host) RunUntilIdle() (int, error) {
	ran := 0
	for {
		progressed := false
		for _, s := range append([]*GlobalScope(nil), h.scopes...) {
			if s.closed || !s.runTask() {
				continue
			}
			ran++
			progressed = true
			if ran >= h.maxTasksPerTurn && h.pendingTasks() > 0 {
				h.logger.Warn("task budget exhausted", "ran", ran, "pending", h.pendingTasks())
				return ran, ErrTaskLimit
			}
		}
		if !progressed && !h.fireNextTimer() {
			return ran, nil
		}
	}
}

// Clock returns the virtual time in milliseconds. It advances only when
// the host fires a timer.
func (h *Host) Clock() float64 { return h.clock }

func (h *Host) nextTimerSeq() uint64 {
	h.timerSeq++
	return h.timerSeq
}

// fireNextTimer advances the clock to the earliest pending timer and
// queues it. It reports whether there was one.
func (h *Host) fireNextTimer() bool {
	var (
		owner *GlobalScope
		next  *timer
	)
	for _, s := range h.scopes {
		if s.closed {
			continue
		}
		t := s.timers.earliest()
		if t != nil && (next == nil || t.due < next.due || (t.due == next.due && t.seq < next.seq)) {
			owner, next = s, t
		}
	}
	if next == nil {
		return false
	}
	h.clock = max(h.clock, next.due)
	owner.fireTimer(next)
	return true
}

func (h *Host) pendingTasks() int {
	n := 0
	for _, s := range h.scopes {
		if !s.closed {
			n += s.PendingTasks() + s.timers.pending()
		}
	}
	return n
}

// OnDelivery registers fn to be called for every message or messageerror
// event the host fires.
func (h *Host) OnDelivery(fn func(DeliveryRecord)) {
	h.observers = append(h.observers, fn)
}

func (h *Host) observe(scope *GlobalScope, ev *MessageEvent) {
	if h == nil || len(h.observers) == 0 {
		return
	}
	rec := DeliveryRecord{
		Scope:   scope.id.String()[:8],
		Kind:    scope.kind.String(),
		URL:     scope.url,
		Type:    ev.Type(),
		Origin:  ev.Origin(),
		Source:  SourceKind(ev.Source()),
		Ports:   len(ev.PortList()),
		Data:    scope.preview(ev.Data()),
		Trusted: ev.IsTrusted(),
	}
	for _, fn := range h.observers {
		fn(rec)
	}
}

// Close closes every scope.
func (h *Host) Close() {
	for _, s := range h.scopes {
		s.Close()
	}
	h.scopes = nil
	h.registrations = nil
	clear(h.ports)
}

func (h *Host) closeScope(s *GlobalScope) {
	s.Close()
	for i, other := range h.scopes {
		if other == s {
			h.scopes = append(h.scopes[:i], h.scopes[i+1:]...)
			break
		}
	}
}

func (h *Host) registrationFor(worker *GlobalScope) *serviceWorkerRegistration {
	for _, reg := range h.registrations {
		if reg.worker == worker {
			return reg
		}
	}
	return nil
}

// port router

func (h *Host) entangle(p1, p2 *MessagePort) {
	h.ports[p1.id] = &portEntry{id: p1.id, entangled: p2.id, owner: p1}
	h.ports[p2.id] = &portEntry{id: p2.id, entangled: p1.id, owner: p2}
}

func (h *Host) disentangle(id uuid.UUID) {
	entry := h.ports[id]
	if entry == nil {
		return
	}
	if other := h.ports[entry.entangled]; other != nil {
		other.entangled = uuid.Nil
	}
	delete(h.ports, id)
}

// routePortMessage hands msg to the port with the given id, or keeps it
// with the port's entry while the port is in transit.
func (h *Host) routePortMessage(id uuid.UUID, msg *serializedMessage) {
	entry := h.ports[id]
	if entry == nil {
		h.discard(msg)
		return
	}
	if entry.owner == nil {
		entry.pending = append(entry.pending, msg)
		return
	}
	entry.owner.enqueue(msg)
}

// claimPorts creates s's MessagePort objects for ports arriving in a
// message. Each port can only be claimed once.
func (h *Host) claimPorts(ids []uuid.UUID, s *GlobalScope) ([]*MessagePort, error) {
	for _, id := range ids {
		entry := h.ports[id]
		if entry == nil {
			return nil, ErrDataClone(fmt.Sprintf("MessagePort %s no longer exists", id))
		}
		if entry.owner != nil {
			return nil, ErrDataClone(fmt.Sprintf("MessagePort %s was already claimed", id))
		}
	}

	ports := make([]*MessagePort, 0, len(ids))
	for _, id := range ids {
		entry := h.ports[id]
		p := s.newMessagePort(id)
		p.queue = entry.pending
		entry.pending = nil
		entry.owner = p
		ports = append(ports, p)
	}
	return ports, nil
}

// discard drops a message that will never be delivered. Ports it carried
// that are still in transit are disentangled, along with the ports of any
// messages queued on them. Ports another scope already claimed are left
// alone.
func (h *Host) discard(msg *serializedMessage) {
	for _, id := range msg.ports {
		entry := h.ports[id]
		if entry == nil || entry.owner != nil {
			continue
		}
		pending := entry.pending
		entry.pending = nil
		h.disentangle(id)
		for _, queued := range pending {
			h.discard(queued)
		}
	}
}
