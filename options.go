// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package quicr

import (
	"time"

	"github.com/creachadair/quicr/message"
	"github.com/creachadair/quicr/transport"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// DefaultAddress is the address a server binds when none is given.
const DefaultAddress = "localhost"

// DefaultReplyTimeout is the default time a server waits for a reply to a
// request that was delivered before any data handler was attached.
const DefaultReplyTimeout = 30 * time.Second

// DefaultDrainTimeout is the default time a server waits, after it stops
// listening, for each accepted session to finish its streams and for the
// peer to close it.
const DefaultDrainTimeout = 5 * time.Second

// Options control the behaviour of a Server or Client. A nil *Options is
// ready for use and provides default values.
type Options struct {
	// Transport is the transport used to listen and dial. If nil, each server
	// or client constructs its own QUIC transport with default settings.
	Transport transport.Transport

	// Logger receives diagnostic logs. If nil, logs are discarded.
	Logger *zerolog.Logger

	// MaxMessageSize bounds the size of an inbound message in bytes.
	// If zero, message.DefaultLimit is used; if negative, there is no limit.
	MaxMessageSize int

	// ReplyTimeout bounds how long a server holds the stream of a request
	// delivered before a data handler was attached. If zero,
	// DefaultReplyTimeout is used.
	ReplyTimeout time.Duration

	// DrainTimeout bounds each of the waits made by a session after its
	// server stops listening: first for its requests in progress to be
	// answered, then for the peer to close the session. If zero,
	// DefaultDrainTimeout is used.
	DrainTimeout time.Duration

	// AcceptRate, if positive, limits the rate at which a server accepts
	// inbound streams, in streams per second, with bursts of up to
	// AcceptBurst (minimum 1).
	AcceptRate  float64
	AcceptBurst int
}

func (o *Options) transport() transport.Transport {
	if o == nil || o.Transport == nil {
		return transport.NewQUIC(nil)
	}
	return o.Transport
}

func (o *Options) logger() zerolog.Logger {
	if o == nil || o.Logger == nil {
		return zerolog.Nop()
	}
	return *o.Logger
}

func (o *Options) maxMessageSize() int {
	if o == nil || o.MaxMessageSize == 0 {
		return message.DefaultLimit
	}
	return o.MaxMessageSize
}

func (o *Options) replyTimeout() time.Duration {
	if o == nil || o.ReplyTimeout <= 0 {
		return DefaultReplyTimeout
	}
	return o.ReplyTimeout
}

func (o *Options) drainTimeout() time.Duration {
	if o == nil || o.DrainTimeout <= 0 {
		return DefaultDrainTimeout
	}
	return o.DrainTimeout
}

// limiter returns a new stream accept limiter, or nil if accepts are not
// limited.
func (o *Options) limiter() *rate.Limiter {
	if o == nil || o.AcceptRate <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(o.AcceptRate), max(o.AcceptBurst, 1))
}
