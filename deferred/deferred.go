// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

// Package deferred implements a replaying notification log.
//
// A [Log] records every value passed to it. A handler attached with
// [Log.Receive] is immediately called with each recorded value, in the order
// the values were passed, and thereafter with each new value as it arrives.
// Unlike a promise, a Log may be passed any number of values, and a handler
// attached late does not miss anything that happened before it arrived.
//
//	var log deferred.Log[string]
//	log.Pass("a")
//	log.Pass("b")
//	log.Receive(func(s string) { fmt.Println(s) }) // prints a, b
//	log.Pass("c")                                   // prints c
//
// A log used for a long-lived stream of values can be told to [Log.Forget]
// values once they have been delivered, so that only values passed while no
// handler is attached are kept.
package deferred

import "sync"

// A Log is an ordered record of values with at most one attached handler.
// A zero Log is ready for use, but must not be copied after first use.
//
// Values are delivered to the handler in the order they were passed, exactly
// once per attached handler. Delivery is serialized, so a handler is never
// invoked concurrently with itself even if Pass is called from multiple
// goroutines. A handler must not call Pass or Receive on its own log.
type Log[T any] struct {
	dμ sync.Mutex // held while delivering to a handler

	μ      sync.Mutex
	vals   []T
	h      func(T)
	forget bool // do not retain delivered values
}

// Pass records v and, if a handler is attached, delivers v to it before
// returning. Pass reports whether v was delivered to a handler.
func (l *Log[T]) Pass(v T) bool {
	l.dμ.Lock()
	defer l.dμ.Unlock()

	l.μ.Lock()
	h := l.h
	if h == nil || !l.forget {
		l.vals = append(l.vals, v)
	}
	l.μ.Unlock()

	if h == nil {
		return false
	}
	h(v)
	return true
}

// Receive attaches h as the handler for l, replacing any previous handler,
// and delivers all the values previously passed to l before returning.
// Passing h == nil detaches the current handler.
func (l *Log[T]) Receive(h func(T)) {
	l.dμ.Lock()
	defer l.dμ.Unlock()

	l.μ.Lock()
	l.h = h
	backlog := l.vals[:len(l.vals):len(l.vals)]
	l.μ.Unlock()

	if h == nil {
		return
	}
	for _, v := range backlog {
		h(v)
	}

	l.μ.Lock()
	defer l.μ.Unlock()
	if l.forget && l.h != nil {
		l.vals = nil
	}
}

// Forget discards the values already delivered to the attached handler, and
// stops l from recording values that are delivered to a handler on arrival.
// Values passed while no handler is attached are still recorded, and are
// delivered to the next handler attached. Forget remains in effect after
// Clear.
func (l *Log[T]) Forget() {
	l.μ.Lock()
	defer l.μ.Unlock()
	l.forget = true
	if l.h != nil {
		l.vals = nil
	}
}

// Clear discards all recorded values and detaches the handler. A handler
// attached after Clear receives only values passed after Clear.
func (l *Log[T]) Clear() {
	l.μ.Lock()
	defer l.μ.Unlock()
	l.vals = nil
	l.h = nil
}

// Len reports the number of values recorded by l.
func (l *Log[T]) Len() int {
	l.μ.Lock()
	defer l.μ.Unlock()
	return len(l.vals)
}
