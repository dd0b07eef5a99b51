package js

import (
	"github.com/dop251/goja"
)

// timer is a pending setTimeout or setInterval callback. Due times are in
// the host's virtual milliseconds: a timer fires once nothing else is
// runnable, in due order.
type timer struct {
	id       int
	seq      uint64
	callback goja.Callable
	args     []goja.Value
	due      float64
	interval float64 // 0 for setTimeout
}

// timerManager holds the timers of one scope.
type timerManager struct {
	timers map[int]*timer
	nextID int
}

func newTimerManager() *timerManager {
	return &timerManager{
		timers: make(map[int]*timer),
		nextID: 1,
	}
}

// schedule registers a callback due delay virtual milliseconds after now.
func (tm *timerManager) schedule(h *Host, callback goja.Callable, delay float64, repeat bool, args []goja.Value) int {
	if delay < 0 {
		delay = 0
	}
	id := tm.nextID
	tm.nextID++

	t := &timer{
		id:       id,
		seq:      h.nextTimerSeq(),
		callback: callback,
		args:     args,
		due:      h.clock + delay,
	}
	if repeat {
		// Zero-delay intervals still advance the clock.
		t.interval = max(delay, 1)
	}
	tm.timers[id] = t
	return id
}

func (tm *timerManager) clear(id int) {
	delete(tm.timers, id)
}

// earliest returns the timer that is due first, or nil.
func (tm *timerManager) earliest() *timer {
	var next *timer
	for _, t := range tm.timers {
		if next == nil || t.due < next.due || (t.due == next.due && t.seq < next.seq) {
			next = t
		}
	}
	return next
}

func (tm *timerManager) pending() int { return len(tm.timers) }

// fire queues t's callback as a task and reschedules or drops t.
func (s *GlobalScope) fireTimer(t *timer) {
	if t.interval > 0 {
		t.due += t.interval
		t.seq = s.host.nextTimerSeq()
	} else {
		s.timers.clear(t.id)
	}
	s.queueTask("timer", func() {
		if _, err := t.callback(goja.Undefined(), t.args...); err != nil {
			s.reportException(err)
		}
	})
}

// setupTimers creates setTimeout, setInterval, clearTimeout, clearInterval.
func (s *GlobalScope) setupTimers() {
	vm := s.vm

	set := func(repeat bool) func(call goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			callback, ok := goja.AssertFunction(call.Argument(0))
			if !ok {
				panic(vm.NewTypeError("Timer callback must be a function"))
			}
			delay := 0.0
			if len(call.Arguments) > 1 {
				delay = float64(call.Arguments[1].ToInteger())
			}
			var args []goja.Value
			if len(call.Arguments) > 2 {
				args = append(args, call.Arguments[2:]...)
			}
			return vm.ToValue(s.timers.schedule(s.host, callback, delay, repeat, args))
		}
	}
	clearFn := func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) > 0 {
			s.timers.clear(int(call.Arguments[0].ToInteger()))
		}
		return goja.Undefined()
	}

	vm.Set("setTimeout", set(false))
	vm.Set("setInterval", set(true))
	vm.Set("clearTimeout", clearFn)
	vm.Set("clearInterval", clearFn)
}
