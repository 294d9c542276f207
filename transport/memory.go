// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
)

// errReset is reported to the peer of a canceled memory stream.
var errReset = errors.New("stream reset by peer")

// Memory is an in-memory network implementing the Transport interface.
// Listeners are keyed by address, and streams are connected pairs of pipes
// that pass bytes directly without encoding. A zero Memory is not ready for
// use; call NewMemory.
type Memory struct {
	μ       sync.Mutex
	lst     map[string]*memListener
	listens int
	dials   int
}

// NewMemory constructs a new empty in-memory network.
func NewMemory() *Memory {
	return &Memory{lst: make(map[string]*memListener)}
}

// Listens reports the number of times Listen has been called on m.
func (m *Memory) Listens() int { m.μ.Lock(); defer m.μ.Unlock(); return m.listens }

// Dials reports the number of times Dial has been called on m.
func (m *Memory) Dials() int { m.μ.Lock(); defer m.μ.Unlock(); return m.dials }

// Listen implements a method of the [Transport] interface.
func (m *Memory) Listen(addr string) (Listener, error) {
	m.μ.Lock()
	defer m.μ.Unlock()
	m.listens++

	key, err := canonicalAddr(addr)
	if err != nil {
		return nil, err
	}
	if _, ok := m.lst[key]; ok {
		return nil, fmt.Errorf("listen %s: address already in use", key)
	}
	lst := &memListener{
		net:    m,
		addr:   memAddr(key),
		conns:  make(chan *memConn),
		closed: make(chan struct{}),
	}
	m.lst[key] = lst
	return lst, nil
}

// Dial implements a method of the [Transport] interface.
func (m *Memory) Dial(ctx context.Context, addr string) (Conn, error) {
	m.μ.Lock()
	m.dials++
	local := memAddr(fmt.Sprintf("client-%d", m.dials))
	key, err := canonicalAddr(addr)
	lst, ok := m.lst[key]
	m.μ.Unlock()

	if err != nil {
		return nil, err
	} else if !ok {
		return nil, fmt.Errorf("dial %s: connection refused", key)
	}

	client, server := newConnPair(local, lst.addr)
	select {
	case lst.conns <- server:
		return client, nil
	case <-lst.closed:
		return nil, fmt.Errorf("dial %s: connection refused", key)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Memory) unbind(key string) {
	m.μ.Lock()
	defer m.μ.Unlock()
	delete(m.lst, key)
}

// canonicalAddr checks that addr has the form host:port and resolves the name
// "localhost" to the IPv4 loopback address.
func canonicalAddr(addr string) (string, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", err
	}
	if host == "" || host == "localhost" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port), nil
}

type memAddr string

func (memAddr) Network() string  { return "memory" }
func (a memAddr) String() string { return string(a) }

type memListener struct {
	net    *Memory
	addr   memAddr
	conns  chan *memConn
	once   sync.Once
	closed chan struct{}
}

func (l *memListener) Accept(ctx context.Context) (Conn, error) {
	select {
	case <-l.closed:
		return nil, net.ErrClosed
	case c := <-l.conns:
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *memListener) Addr() net.Addr { return l.addr }

func (l *memListener) Close() error {
	err := net.ErrClosed
	l.once.Do(func() {
		close(l.closed)
		l.net.unbind(string(l.addr))
		err = nil
	})
	return err
}

// A connPair is the state shared by both ends of a memory connection.
type connPair struct {
	once sync.Once
	done chan struct{}

	μ       sync.Mutex
	streams []*memStream
}

func (p *connPair) track(ss ...*memStream) {
	p.μ.Lock()
	defer p.μ.Unlock()
	p.streams = append(p.streams, ss...)
}

func (p *connPair) close() error {
	err := net.ErrClosed
	p.once.Do(func() {
		close(p.done)
		p.μ.Lock()
		defer p.μ.Unlock()
		for _, s := range p.streams {
			s.abort(net.ErrClosed)
		}
		p.streams = nil
		err = nil
	})
	return err
}

type memConn struct {
	pair   *connPair
	remote memAddr
	in     chan *memStream // streams opened by the peer
	peerIn chan *memStream // streams we open for the peer
}

func newConnPair(client, server memAddr) (c, s *memConn) {
	p := &connPair{done: make(chan struct{})}
	c2s := make(chan *memStream)
	s2c := make(chan *memStream)
	c = &memConn{pair: p, remote: server, in: s2c, peerIn: c2s}
	s = &memConn{pair: p, remote: client, in: c2s, peerIn: s2c}
	return c, s
}

func (c *memConn) AcceptStream(ctx context.Context) (Stream, error) {
	select {
	case <-c.pair.done:
		return nil, io.EOF
	case s := <-c.in:
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *memConn) OpenStream(ctx context.Context) (Stream, error) {
	local, remote := newStreamPair()
	c.pair.track(local, remote)
	select {
	case <-c.pair.done:
		return nil, net.ErrClosed
	case c.peerIn <- remote:
		return local, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *memConn) RemoteAddr() net.Addr { return c.remote }

func (c *memConn) Close() error { return c.pair.close() }

// A memStream is one end of a bidirectional pipe.
type memStream struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func newStreamPair() (a, b *memStream) {
	ar, bw := io.Pipe() // b → a
	br, aw := io.Pipe() // a → b
	return &memStream{r: ar, w: aw}, &memStream{r: br, w: bw}
}

func (s *memStream) Read(p []byte) (int, error)  { return s.r.Read(p) }
func (s *memStream) Write(p []byte) (int, error) { return s.w.Write(p) }
func (s *memStream) CloseWrite() error           { return s.w.Close() }
func (s *memStream) Cancel()                     { s.abort(errReset) }

func (s *memStream) abort(err error) {
	s.r.CloseWithError(err)
	s.w.CloseWithError(err)
}
