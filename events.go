// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package quicr

import "github.com/creachadair/quicr/deferred"

// Events is a reusable notification value with three independent channels:
// completion, error, and data. Each channel keeps a record of every value
// passed to it, so a handler attached after values have arrived is called
// with each of them, in order, before the attaching method returns.
//
// Attaching a handler replaces the previous handler for that channel. The
// attaching methods return e to permit chaining:
//
//	srv.Listen(2345, "").
//	   Then(func() { log.Print("listening") }).
//	   OnError(func(err error) { log.Printf("error: %v", err) }).
//	   OnData(func(req *quicr.Request) { req.Reply.Write(payload.Text("ok")) })
//
// Handlers are called synchronously by the producer, and may be called from
// a goroutine other than the one that attached them. Deliveries on one
// channel are serialized; a handler must not attach a handler to its own
// channel.
type Events[D any] struct {
	complete deferred.Log[struct{}]
	errs     deferred.Log[error]
	data     deferred.Log[D]
}

// NewEvents constructs a new Events value with empty channels.
func NewEvents[D any]() *Events[D] { return new(Events[D]) }

// Then attaches f to the completion channel. Passing nil detaches it.
func (e *Events[D]) Then(f func()) *Events[D] {
	if f == nil {
		e.complete.Receive(nil)
	} else {
		e.complete.Receive(func(struct{}) { f() })
	}
	return e
}

// OnError attaches f to the error channel. Passing nil detaches it.
func (e *Events[D]) OnError(f func(error)) *Events[D] { e.errs.Receive(f); return e }

// OnData attaches f to the data channel. Passing nil detaches it.
func (e *Events[D]) OnData(f func(D)) *Events[D] { e.data.Receive(f); return e }

// Resolve passes a completion signal, and reports whether a handler was
// attached to receive it.
func (e *Events[D]) Resolve() bool { return e.complete.Pass(struct{}{}) }

// Reject passes err on the error channel, and reports whether a handler was
// attached to receive it.
func (e *Events[D]) Reject(err error) bool { return e.errs.Pass(err) }

// Deliver passes v on the data channel, and reports whether a handler was
// attached to receive it.
func (e *Events[D]) Deliver(v D) bool { return e.data.Pass(v) }

// Forget stops each channel of e from retaining values that were delivered
// to an attached handler, and discards those already delivered. Values that
// arrive while a channel has no handler are still kept for the next one.
// A long-lived Events value, such as the one returned by [Server.Listen],
// should use Forget once its handlers are attached.
func (e *Events[D]) Forget() *Events[D] {
	e.complete.Forget()
	e.errs.Forget()
	e.data.Forget()
	return e
}

// Clear discards the recorded values of all channels and detaches all
// handlers. The channels remain usable.
func (e *Events[D]) Clear() {
	e.complete.Clear()
	e.errs.Clear()
	e.data.Clear()
}
