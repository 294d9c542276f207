// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package quicr

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"io"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"time"

	"github.com/creachadair/quicr/message"
	"github.com/creachadair/quicr/payload"
	"github.com/creachadair/quicr/transport"
	"github.com/creachadair/taskgroup"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// A Server accepts inbound messages on a passive endpoint and delivers them,
// with a handle for replying, to the data channel of an [Events] value.
//
// A server listens on at most one endpoint at a time. After StopListening,
// the server may listen again. The methods of a Server are safe for
// concurrent use by multiple goroutines.
type Server struct {
	opts *Options
	tr   transport.Transport
	log  zerolog.Logger

	μ       sync.Mutex
	lst     transport.Listener
	stop    context.CancelFunc
	pending []*taskgroup.Group // background work of current and stopped listeners
}

// NewServer constructs a new server that is not listening. If opts == nil,
// default options are used.
func NewServer(opts *Options) *Server {
	return &Server{
		opts: opts,
		tr:   opts.transport(),
		log:  opts.logger().With().Str("component", "server").Logger(),
	}
}

// A Request is an inbound message delivered by a server.
type Request struct {
	Message payload.Message // the complete content of the message
	Reply   *Reply          // the handle for replying to the sender
	Remote  net.Addr        // the address of the sender

	ctx context.Context
}

// Context returns a context that ends when the server that received r stops
// listening.
func (r *Request) Context() context.Context { return r.ctx }

func (r *Request) String() string {
	return fmt.Sprintf("Request(from=%v, %d bytes)", r.Remote, len(r.Message))
}

// Listen binds the server at the given port and address and returns an
// Events value reporting its activity. If address == "", DefaultAddress is
// used.
//
// If the arguments are invalid, or the server is already listening, the
// error channel reports a ConfigError and the transport is not touched. If
// the bind fails, the error channel reports a ServerError. Otherwise, the
// completion channel is passed a signal before Listen returns.
//
// Each complete inbound message is passed on the data channel as a *Request.
// Failures of accepted sessions and streams are passed on the error channel
// with classes ServerSessionError and ServerStreamError.
//
// A request delivered to an attached handler that returns without replying is
// answered with an empty reply. A request delivered before any handler was
// attached is held until it is answered, the reply timeout expires, or the
// server stops listening.
func (s *Server) Listen(port int, address string) *Events[*Request] {
	ev := NewEvents[*Request]()
	if port <= 0 || port > 65535 {
		s.reject(ev, configError("listen: invalid port %d", port))
		return ev
	}
	if address == "" {
		address = DefaultAddress
	}

	s.μ.Lock()
	defer s.μ.Unlock()
	if s.lst != nil {
		s.reject(ev, configError("listen: already listening at %v", s.lst.Addr()))
		return ev
	}

	addr := net.JoinHostPort(address, strconv.Itoa(port))
	lst, err := s.tr.Listen(addr)
	if err != nil {
		s.reject(ev, &Error{Class: ServerError, Err: err})
		return ev
	}
	rootMetrics.listens.Add(1)
	s.log.Info().Stringer("addr", lst.Addr()).Msg("listening")

	ctx, cancel := context.WithCancel(context.Background())
	g := taskgroup.New(nil)
	s.lst = lst
	s.stop = cancel
	s.pending = append(s.pending, g)

	ev.Resolve()

	lim := s.opts.limiter()
	g.Go(func() error {
		s.acceptLoop(ctx, g, lst, lim, ev)
		return nil
	})
	return ev
}

// StopListening closes the bound endpoint, if any, and ends the sessions it
// accepted. Each session is closed once its requests in progress have been
// answered and the peer has closed it, or after the drain timeout. It is safe
// to call StopListening when the server is not listening; in that case it
// does nothing.
//
// StopListening does not wait for data handlers in progress, and so may be
// called from a handler. Use Wait to wait for them to finish.
func (s *Server) StopListening() error {
	s.μ.Lock()
	lst, stop := s.lst, s.stop
	s.lst, s.stop = nil, nil
	s.μ.Unlock()

	if lst == nil {
		return nil
	}
	stop()
	err := lst.Close()
	s.log.Info().Stringer("addr", lst.Addr()).Msg("stopped listening")
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Wait blocks until the background work of all listeners stopped so far has
// finished. If the server is listening, Wait blocks until it stops.
func (s *Server) Wait() {
	s.μ.Lock()
	gs := s.pending
	s.pending = nil
	s.μ.Unlock()

	for _, g := range gs {
		g.Wait()
	}
}

// Listener returns the bound listener, or nil if s is not listening.
func (s *Server) Listener() transport.Listener {
	s.μ.Lock()
	defer s.μ.Unlock()
	return s.lst
}

// Address reports the bound address of s. If s is not listening, it returns
// the zero Address.
func (s *Server) Address() Address {
	lst := s.Listener()
	if lst == nil {
		return Address{}
	}
	return addressOf(lst.Addr())
}

// Metrics returns the metrics map for servers and clients. It is safe for the
// caller to add additional metrics to the map.
func (s *Server) Metrics() *expvar.Map { return rootMetrics.emap }

func (s *Server) acceptLoop(ctx context.Context, g *taskgroup.Group, lst transport.Listener, lim *rate.Limiter, ev *Events[*Request]) {
	for {
		conn, err := lst.Accept(ctx)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				s.reject(ev, &Error{Class: ServerError, Err: err})
			}
			return
		}
		rootMetrics.sessionsIn.Add(1)
		g.Go(func() error {
			s.serveSession(ctx, conn, lim, ev)
			return nil
		})
	}
}

func (s *Server) serveSession(ctx context.Context, conn transport.Conn, lim *rate.Limiter, ev *Events[*Request]) {
	log := s.log.With().Stringer("remote", conn.RemoteAddr()).Logger()
	log.Debug().Msg("session accepted")

	streams := taskgroup.New(nil)
	defer func() {
		s.drain(conn, streams)
		log.Debug().Msg("session ended")
	}()
	for {
		st, err := conn.AcceptStream(ctx)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, io.EOF) {
				s.reject(ev, &Error{Class: ServerSessionError, Err: err})
			}
			return
		}
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				st.Cancel()
				return
			}
		}
		rootMetrics.streamsIn.Add(1)
		streams.Go(func() error {
			s.serveStream(ctx, conn.RemoteAddr(), st, ev)
			return nil
		})
	}
}

// drain closes conn once its streams have finished and the peer has closed
// it, so that replies already written are not discarded. Each wait is bounded
// by the drain timeout. Streams the peer opens while draining are refused.
func (s *Server) drain(conn transport.Conn, streams *taskgroup.Group) {
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.drainTimeout())
	defer cancel()

	done := make(chan struct{})
	go func() { defer close(done); streams.Wait() }()
	select {
	case <-done:
	case <-ctx.Done():
		conn.Close() // unblock streams still reading
		<-done
		return
	}
	for {
		st, err := conn.AcceptStream(ctx)
		if err != nil {
			return
		}
		st.Cancel()
	}
}

func (s *Server) serveStream(ctx context.Context, remote net.Addr, st transport.Stream, ev *Events[*Request]) {
	data, err := message.Read(st, s.opts.maxMessageSize())
	if err != nil {
		st.Cancel()
		if ctx.Err() == nil {
			s.reject(ev, &Error{Class: ServerStreamError, Err: err})
		}
		return
	}
	rootMetrics.messagesIn.Add(1)
	rootMetrics.bytesReceived.Add(int64(len(data)))
	s.log.Debug().Stringer("remote", remote).Int("bytes", len(data)).Msg("message received")

	rsp := &Reply{
		st:   st,
		done: make(chan struct{}),
		fail: func(err error) {
			if ctx.Err() == nil {
				s.reject(ev, &Error{Class: ServerStreamError, Err: err})
			}
		},
	}
	req := &Request{Message: payload.Message(data), Reply: rsp, Remote: remote, ctx: ctx}

	delivered, err := deliver(ev, req)
	if err != nil {
		rsp.Fail()
		s.reject(ev, &Error{Class: ServerStreamError, Err: err})
		return
	}
	if !delivered {
		t := time.NewTimer(s.opts.replyTimeout())
		defer t.Stop()
		select {
		case <-rsp.done:
		case <-t.C:
			s.log.Debug().Stringer("remote", remote).Msg("reply timed out")
		case <-ctx.Done():
		}
	}
	rsp.Close() // no-op if the handler already replied
}

// deliver passes req on the data channel of ev, and converts a panic by the
// handler into an error.
func deliver(ev *Events[*Request], req *Request) (ok bool, err error) {
	defer func() {
		if x := recover(); x != nil {
			err = fmt.Errorf("data handler panicked (recovered): %v", x)
		}
	}()
	return ev.Deliver(req), nil
}

func (s *Server) reject(ev *Events[*Request], err *Error) {
	rootMetrics.errors.Add(1)
	s.log.Warn().Err(err.Err).Str("class", string(err.Class)).Msg("listen error")
	ev.Reject(err)
}

// A Reply is the handle for answering one inbound message. A reply is
// terminal: the first call to Write, Close, or Fail ends the stream, and any
// later call reports ErrReplyDone. The methods of a Reply are safe for
// concurrent use.
type Reply struct {
	st   transport.Stream
	fail func(error) // report a stream failure

	μ    sync.Mutex
	sent bool
	done chan struct{}
}

// Write encodes p, sends it to the sender of the request, and ends the
// stream. If p cannot be encoded, Write reports a ConfigError and the reply
// remains open.
func (r *Reply) Write(p payload.Payload) error {
	if p.IsZero() {
		return configError("reply: payload is absent")
	}
	data, err := p.Encode()
	if err != nil {
		return &Error{Class: ConfigError, Err: err}
	}
	return r.finish(data)
}

// Close ends the stream with an empty reply.
func (r *Reply) Close() error { return r.finish(nil) }

// Fail abandons the reply, so that the sender observes a stream error.
func (r *Reply) Fail() error {
	r.μ.Lock()
	defer r.μ.Unlock()
	if r.sent {
		return ErrReplyDone
	}
	r.sent = true
	close(r.done)
	r.st.Cancel()
	return nil
}

// Done reports whether the reply has been terminated.
func (r *Reply) Done() bool {
	r.μ.Lock()
	defer r.μ.Unlock()
	return r.sent
}

func (r *Reply) finish(data []byte) error {
	r.μ.Lock()
	if r.sent {
		r.μ.Unlock()
		return ErrReplyDone
	}
	r.sent = true
	err := r.send(data)
	close(r.done)
	r.μ.Unlock()

	if err != nil {
		r.fail(err)
		return err
	}
	rootMetrics.repliesSent.Add(1)
	rootMetrics.bytesSent.Add(int64(len(data)))
	return nil
}

func (r *Reply) send(data []byte) error {
	if len(data) != 0 {
		if _, err := r.st.Write(data); err != nil {
			r.st.Cancel()
			return err
		}
	}
	return r.st.CloseWrite()
}

// Address describes the bound address of a server.
type Address struct {
	Port    int    // the bound port
	Family  string // "IPv4", "IPv6", or "" if the address is not an IP
	Address string // the bound host address
}

func (a Address) String() string {
	return net.JoinHostPort(a.Address, strconv.Itoa(a.Port))
}

func addressOf(a net.Addr) Address {
	host, port, err := net.SplitHostPort(a.String())
	if err != nil {
		return Address{}
	}
	out := Address{Address: host}
	out.Port, _ = strconv.Atoi(port)
	if ip, err := netip.ParseAddr(host); err == nil {
		if ip.Unmap().Is4() {
			out.Family = "IPv4"
		} else {
			out.Family = "IPv6"
		}
	}
	return out
}
