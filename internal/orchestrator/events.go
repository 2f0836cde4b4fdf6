package orchestrator

import (
	"fmt"
	"strconv"
)

// Subscribe registers cb and returns an id usable with Unsubscribe.
// Registration and deregistration are both O(1) (spec §9, "callback
// lifecycle").
func (o *Orchestrator) Subscribe(cb Subscriber) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.nextSubID++
	id := strconv.FormatUint(o.nextSubID, 10)
	o.subscribers[id] = cb
	return id
}

// Unsubscribe removes a subscriber; unknown ids are a no-op.
func (o *Orchestrator) Unsubscribe(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.subscribers, id)
}

// emit snapshots j and queues a progress event for the dispatcher. It
// never calls a subscriber directly — j may be mutated from a Transfer
// Engine goroutine, so this is the one safe crossing point (spec §9,
// "cross-thread event delivery").
func (o *Orchestrator) emit(j *job) {
	select {
	case o.eventCh <- Event{Type: "progress", Data: j.JobSummary}:
	default:
		// Dispatcher is behind; drop rather than block the caller. The
		// engine's own 500ms throttle means the next tick supersedes
		// this one anyway.
	}
}

// EmitLog queues a "log" event carrying data (a logger.LogEvent) for
// the dispatcher, the same way emit queues a "progress" JobSummary —
// this is how the orchestrator's subscriber bus doubles as the sink
// for internal/logger.EventHandler once a caller wires SetSink to it.
func (o *Orchestrator) EmitLog(data any) {
	select {
	case o.eventCh <- Event{Type: "log", Data: data}:
	default:
	}
}

// dispatcherLoop is the single goroutine permitted to invoke subscriber
// callbacks, draining eventCh and fanning each event out sequentially.
func (o *Orchestrator) dispatcherLoop() {
	defer o.wg.Done()
	for {
		select {
		case <-o.rootCtx.Done():
			return
		case ev := <-o.eventCh:
			o.dispatch(ev)
		}
	}
}

func (o *Orchestrator) dispatch(ev Event) {
	o.mu.Lock()
	cbs := make(map[string]Subscriber, len(o.subscribers))
	for id, cb := range o.subscribers {
		cbs[id] = cb
	}
	o.mu.Unlock()

	for id, cb := range cbs {
		if ok := safeInvoke(cb, ev); !ok {
			o.Unsubscribe(id)
			o.opts.Logger.Warn("subscriber panicked and was removed", "subscriber", id)
		}
	}
}

// safeInvoke calls cb, converting a panic into a false return so one
// failing subscriber never affects the others or the dispatcher loop.
func safeInvoke(cb Subscriber, ev Event) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			_ = fmt.Sprint(r)
		}
	}()
	cb(ev)
	return true
}
