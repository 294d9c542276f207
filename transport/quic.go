// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
)

// ALPN is the application protocol name negotiated by QUIC peers.
const ALPN = "quicr"

// Application error codes used when closing connections and streams.
const (
	codeNoError  = 0
	codeCanceled = 1
)

// DefaultKeepAlive is the keep-alive period used for QUIC connections when
// none is configured. It keeps a session open while a request waits for its
// reply longer than the idle timeout.
const DefaultKeepAlive = 10 * time.Second

// QUICConfig carries settings for a QUIC transport. A nil *QUICConfig is
// equivalent to a zero config.
type QUICConfig struct {
	// ServerTLS is the TLS configuration for listeners. If nil, the first
	// call to Listen generates an ephemeral self-signed certificate.
	ServerTLS *tls.Config

	// ClientTLS is the TLS configuration for dialing. If nil, the client
	// does not verify server certificates.
	ClientTLS *tls.Config

	// QUIC holds quic-go settings; nil uses the library defaults, except that
	// a zero KeepAlivePeriod selects DefaultKeepAlive.
	QUIC *quic.Config
}

// QUIC is a Transport over the QUIC protocol.
type QUIC struct {
	cfg QUICConfig

	μ    sync.Mutex
	stls *tls.Config // server TLS, set on first use
}

// NewQUIC constructs a QUIC transport with the given settings.
func NewQUIC(cfg *QUICConfig) *QUIC {
	q := new(QUIC)
	if cfg != nil {
		q.cfg = *cfg
	}
	return q
}

func (q *QUIC) serverTLS() (*tls.Config, error) {
	q.μ.Lock()
	defer q.μ.Unlock()
	if q.stls != nil {
		return q.stls, nil
	}
	if q.cfg.ServerTLS != nil {
		q.stls = withALPN(q.cfg.ServerTLS)
		return q.stls, nil
	}
	cert, err := SelfSigned("localhost", "127.0.0.1", "::1")
	if err != nil {
		return nil, err
	}
	q.stls = ServerTLS(cert)
	return q.stls, nil
}

func (q *QUIC) quicConfig() *quic.Config {
	qc := new(quic.Config)
	if q.cfg.QUIC != nil {
		qc = q.cfg.QUIC.Clone()
	}
	if qc.KeepAlivePeriod == 0 {
		qc.KeepAlivePeriod = DefaultKeepAlive
	}
	return qc
}

func (q *QUIC) clientTLS() *tls.Config {
	if q.cfg.ClientTLS != nil {
		return withALPN(q.cfg.ClientTLS)
	}
	return ClientTLS(nil)
}

// Listen implements a method of the [Transport] interface.
func (q *QUIC) Listen(addr string) (Listener, error) {
	tc, err := q.serverTLS()
	if err != nil {
		return nil, fmt.Errorf("server tls: %w", err)
	}
	lst, err := quic.ListenAddr(addr, tc, q.quicConfig())
	if err != nil {
		return nil, err
	}
	return quicListener{lst: lst}, nil
}

// Dial implements a method of the [Transport] interface.
func (q *QUIC) Dial(ctx context.Context, addr string) (Conn, error) {
	conn, err := quic.DialAddr(ctx, addr, q.clientTLS(), q.quicConfig())
	if err != nil {
		return nil, err
	}
	return quicConn{conn: conn}, nil
}

type quicListener struct {
	lst *quic.Listener
}

func (l quicListener) Accept(ctx context.Context) (Conn, error) {
	conn, err := l.lst.Accept(ctx)
	if err != nil {
		if errors.Is(err, quic.ErrServerClosed) {
			return nil, net.ErrClosed
		}
		return nil, err
	}
	return quicConn{conn: conn}, nil
}

func (l quicListener) Addr() net.Addr { return l.lst.Addr() }

func (l quicListener) Close() error { return l.lst.Close() }

type quicConn struct {
	conn *quic.Conn
}

func (c quicConn) AcceptStream(ctx context.Context) (Stream, error) {
	s, err := c.conn.AcceptStream(ctx)
	if err != nil {
		if isNormalClose(err) {
			return nil, io.EOF
		}
		return nil, err
	}
	return quicStream{s}, nil
}

func (c quicConn) OpenStream(ctx context.Context) (Stream, error) {
	s, err := c.conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	return quicStream{s}, nil
}

func (c quicConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

func (c quicConn) Close() error { return c.conn.CloseWithError(codeNoError, "") }

// isNormalClose reports whether err indicates that the connection ended
// without a fault: the peer closed it with no error, or it went idle.
func isNormalClose(err error) bool {
	var app *quic.ApplicationError
	if errors.As(err, &app) && app.ErrorCode == codeNoError {
		return true
	}
	var idle *quic.IdleTimeoutError
	return errors.As(err, &idle)
}

type quicStream struct {
	*quic.Stream
}

// CloseWrite closes the send direction of the stream.
func (s quicStream) CloseWrite() error { return s.Stream.Close() }

func (s quicStream) Cancel() {
	s.Stream.CancelRead(codeCanceled)
	s.Stream.CancelWrite(codeCanceled)
}

// withALPN returns a copy of tc that negotiates the quicr protocol.
func withALPN(tc *tls.Config) *tls.Config {
	out := tc.Clone()
	if len(out.NextProtos) == 0 {
		out.NextProtos = []string{ALPN}
	}
	return out
}
