// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package quicr

import (
	"context"
	"expvar"
	"net"
	"strconv"

	"github.com/creachadair/quicr/message"
	"github.com/creachadair/quicr/payload"
	"github.com/creachadair/quicr/transport"
	"github.com/creachadair/taskgroup"
	"github.com/rs/zerolog"
)

// A Client sends messages to remote servers and delivers their replies.
// Each call to Send uses its own connection, which is closed when the
// exchange ends. The methods of a Client are safe for concurrent use, except
// that Wait must not be called concurrently with Send.
type Client struct {
	opts *Options
	tr   transport.Transport
	log  zerolog.Logger
	g    *taskgroup.Group
}

// NewClient constructs a new client. If opts == nil, default options are
// used.
func NewClient(opts *Options) *Client {
	return &Client{
		opts: opts,
		tr:   opts.transport(),
		log:  opts.logger().With().Str("component", "client").Logger(),
		g:    taskgroup.New(nil),
	}
}

// Send sends p to the server at the given port and address, and returns an
// Events value reporting the progress of the exchange.
//
// If the arguments are invalid, or p cannot be encoded, the error channel
// reports a ConfigError and no connection is made. Otherwise, the exchange
// runs in the background:
//
//   - If the connection cannot be established, the error channel reports a
//     ClientError.
//   - Once the message has been completely written, the completion channel is
//     passed a signal.
//   - When the reply is complete, it is passed on the data channel.
//
// Failures writing the message or reading the reply are reported on the error
// channel as a ClientStreamError. If ctx ends before the exchange is complete,
// the connection is closed and the exchange fails.
func (c *Client) Send(ctx context.Context, port int, address string, p payload.Payload) *Events[payload.Message] {
	ev := NewEvents[payload.Message]()
	if port <= 0 || port > 65535 {
		c.reject(ev, configError("send: invalid port %d", port))
		return ev
	} else if address == "" {
		c.reject(ev, configError("send: empty address"))
		return ev
	} else if p.IsZero() {
		c.reject(ev, configError("send: payload is absent"))
		return ev
	}
	data, err := p.Encode()
	if err != nil {
		c.reject(ev, &Error{Class: ConfigError, Err: err})
		return ev
	}

	addr := net.JoinHostPort(address, strconv.Itoa(port))
	rootMetrics.sends.Add(1)
	rootMetrics.sendsPending.Add(1)
	c.g.Go(func() error {
		defer rootMetrics.sendsPending.Add(-1)
		c.exchange(ctx, addr, data, ev)
		return nil
	})
	return ev
}

func (c *Client) exchange(ctx context.Context, addr string, data []byte, ev *Events[payload.Message]) {
	log := c.log.With().Str("addr", addr).Logger()
	conn, err := c.tr.Dial(ctx, addr)
	if err != nil {
		c.reject(ev, &Error{Class: ClientError, Err: err})
		return
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	log.Debug().Int("bytes", len(data)).Msg("connected")

	st, err := conn.OpenStream(ctx)
	if err != nil {
		c.reject(ev, &Error{Class: ClientStreamError, Err: err})
		return
	}
	if len(data) != 0 {
		if _, err := st.Write(data); err != nil {
			st.Cancel()
			c.reject(ev, &Error{Class: ClientStreamError, Err: err})
			return
		}
	}
	if err := st.CloseWrite(); err != nil {
		st.Cancel()
		c.reject(ev, &Error{Class: ClientStreamError, Err: err})
		return
	}
	rootMetrics.bytesSent.Add(int64(len(data)))
	ev.Resolve()

	rsp, err := message.Read(st, c.opts.maxMessageSize())
	if err != nil {
		st.Cancel()
		c.reject(ev, &Error{Class: ClientStreamError, Err: err})
		return
	}
	rootMetrics.bytesReceived.Add(int64(len(rsp)))
	log.Debug().Int("bytes", len(rsp)).Msg("reply received")
	ev.Deliver(payload.Message(rsp))
}

func (c *Client) reject(ev *Events[payload.Message], err *Error) {
	rootMetrics.errors.Add(1)
	if err.Class != ConfigError {
		rootMetrics.sendsFailed.Add(1)
	}
	c.log.Warn().Err(err.Err).Str("class", string(err.Class)).Msg("send error")
	ev.Reject(err)
}

// Transport returns the transport used by c.
func (c *Client) Transport() transport.Transport { return c.tr }

// Wait blocks until all the exchanges started by Send have finished.
func (c *Client) Wait() { c.g.Wait() }

// Metrics returns the metrics map for servers and clients. It is safe for the
// caller to add additional metrics to the map.
func (c *Client) Metrics() *expvar.Map { return rootMetrics.emap }
