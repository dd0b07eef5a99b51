package js

import (
	"github.com/dop251/goja"
)

// task represents a queued unit of work in a scope's event loop.
type task struct {
	source string
	run    func()
	msg    *serializedMessage // set when the task delivers a message
}

// microtask is a script callback queued with queueMicrotask.
type microtask struct {
	callback goja.Callable
	args     []goja.Value
}

// eventLoop holds the task and microtask queues of one scope. It is only
// touched from the goroutine driving the host.
type eventLoop struct {
	tasks      []task
	microtasks []microtask
}

func newEventLoop() *eventLoop {
	return &eventLoop{}
}

// queueTask adds a task. Tasks run in FIFO order, one per turn.
func (el *eventLoop) queueTask(source string, fn func()) {
	el.tasks = append(el.tasks, task{source: source, run: fn})
}

// queueMessageTask adds a task that delivers msg.
func (el *eventLoop) queueMessageTask(source string, msg *serializedMessage, fn func()) {
	el.tasks = append(el.tasks, task{source: source, run: fn, msg: msg})
}

// queueMicrotask adds a microtask to the queue.
// Microtasks are executed after the current task completes.
func (el *eventLoop) queueMicrotask(callback goja.Callable, args []goja.Value) {
	el.microtasks = append(el.microtasks, microtask{callback: callback, args: args})
}

// next pops the oldest task.
func (el *eventLoop) next() (task, bool) {
	if len(el.tasks) == 0 {
		return task{}, false
	}
	t := el.tasks[0]
	el.tasks[0] = task{}
	el.tasks = el.tasks[1:]
	return t, true
}

// drainMicrotasks runs microtasks until the queue is empty, including any
// queued while draining.
func (el *eventLoop) drainMicrotasks(s *GlobalScope) {
	for len(el.microtasks) > 0 {
		m := el.microtasks[0]
		el.microtasks = el.microtasks[1:]
		if _, err := m.callback(goja.Undefined(), m.args...); err != nil {
			s.reportException(err)
		}
	}
}

// pending returns the number of queued tasks.
func (el *eventLoop) pending() int {
	return len(el.tasks)
}

// clear removes all pending tasks and returns the ones that never ran.
func (el *eventLoop) clear() []task {
	dropped := el.tasks
	el.tasks = nil
	el.microtasks = nil
	return dropped
}
