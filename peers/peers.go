// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

// Package peers provides support code for running and testing servers and
// clients.
package peers

import (
	"context"

	"github.com/creachadair/quicr"
	"github.com/creachadair/quicr/payload"
	"github.com/creachadair/quicr/transport"
)

// DefaultPort is the port used by a Local server.
const DefaultPort = 2345

// Local is a server and a client connected by an in-memory network, suitable
// for testing.
type Local struct {
	Network *transport.Memory
	Server  *quicr.Server
	Client  *quicr.Client
	Port    int
}

// NewLocal creates a server and client sharing a new in-memory network. The
// server is not listening; call Listen to start it. If opts != nil, its
// settings other than Transport are used by both.
func NewLocal(opts *quicr.Options) *Local {
	mem := transport.NewMemory()
	var o quicr.Options
	if opts != nil {
		o = *opts
	}
	o.Transport = mem
	return &Local{
		Network: mem,
		Server:  quicr.NewServer(&o),
		Client:  quicr.NewClient(&o),
		Port:    DefaultPort,
	}
}

// Listen starts the server listening at the local port.
func (p *Local) Listen() *quicr.Events[*quicr.Request] {
	return p.Server.Listen(p.Port, quicr.DefaultAddress)
}

// Send sends msg from the client to the local port.
func (p *Local) Send(ctx context.Context, msg payload.Payload) *quicr.Events[payload.Message] {
	return p.Client.Send(ctx, p.Port, quicr.DefaultAddress, msg)
}

// Stop stops the server and blocks until the server and client have no work
// in progress.
func (p *Local) Stop() error {
	err := p.Server.StopListening()
	p.Client.Wait()
	p.Server.Wait()
	return err
}

// Serve starts srv listening at the given port and address, and delivers
// each request to h. Serve blocks until ctx ends, then stops the server and
// waits for requests in progress to finish. If the server fails to bind,
// Serve reports that error. Requests are not retained once h has been called.
func Serve(ctx context.Context, srv *quicr.Server, port int, address string, h func(*quicr.Request)) error {
	bound := make(chan error, 1)
	srv.Listen(port, address).
		Then(func() { bound <- nil }).
		OnError(func(err error) {
			if quicr.ClassOf(err) == quicr.ConfigError || quicr.ClassOf(err) == quicr.ServerError {
				select {
				case bound <- err:
				default:
				}
			}
		}).
		OnData(h).
		Forget()

	if err := <-bound; err != nil {
		return err
	}
	<-ctx.Done()
	err := srv.StopListening()
	srv.Wait()
	return err
}

// Await blocks until ev reports a value on its data or error channel, or
// until ctx ends, and returns the first of these. Await replaces any data and
// error handlers previously attached to ev.
func Await[D any](ctx context.Context, ev *quicr.Events[D]) (D, error) {
	type result struct {
		v   D
		err error
	}
	ch := make(chan result, 1)
	post := func(r result) {
		select {
		case ch <- r:
		default:
		}
	}
	ev.OnData(func(v D) { post(result{v: v}) }).
		OnError(func(err error) { post(result{err: err}) })

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero D
		return zero, ctx.Err()
	}
}
