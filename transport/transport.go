// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

// Package transport defines the connection-oriented, stream-multiplexing
// transport used by quicr servers and clients, and provides implementations.
//
// A [Transport] binds passive endpoints ([Listener]) and dials connections
// ([Conn]). A connection hosts any number of independent byte [Stream]s, each
// delivering an ordered sequence of chunks followed by an end-of-stream
// signal.
//
// [QUIC] implements the interface over QUIC using quic-go. [Memory]
// implements it with in-memory pipes, for testing.
package transport

import (
	"context"
	"io"
	"net"
)

// A Transport creates passive endpoints and outbound connections.
type Transport interface {
	// Listen binds a passive endpoint at addr, which has the form host:port.
	Listen(addr string) (Listener, error)

	// Dial opens a new connection to the endpoint at addr.
	Dial(ctx context.Context, addr string) (Conn, error)
}

// A Listener is a bound passive endpoint that accepts inbound connections.
type Listener interface {
	// Accept blocks until a connection arrives, ctx ends, or the listener is
	// closed. After Close, Accept reports an error wrapping net.ErrClosed.
	Accept(ctx context.Context) (Conn, error)

	// Addr reports the bound address of the listener.
	Addr() net.Addr

	// Close releases the binding and any resources it holds.
	Close() error
}

// A Conn is a session between two endpoints, hosting multiple streams.
type Conn interface {
	// AcceptStream blocks until the peer opens a stream. If the peer closed
	// the connection normally, AcceptStream reports io.EOF.
	AcceptStream(ctx context.Context) (Stream, error)

	// OpenStream opens a new bidirectional stream to the peer.
	OpenStream(ctx context.Context) (Stream, error)

	// RemoteAddr reports the address of the peer.
	RemoteAddr() net.Addr

	// Close closes the connection and all its streams.
	Close() error
}

// A Stream is an ordered bidirectional byte stream within a connection.
// Read reports io.EOF once the peer has closed its write side.
type Stream interface {
	io.Reader
	io.Writer

	// CloseWrite signals end of stream to the peer. Reads are unaffected.
	CloseWrite() error

	// Cancel abandons the stream in both directions. The peer observes an
	// error rather than a normal end of stream.
	Cancel()
}
