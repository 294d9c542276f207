// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

package peers_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/creachadair/quicr"
	"github.com/creachadair/quicr/payload"
	"github.com/creachadair/quicr/peers"
	"github.com/creachadair/taskgroup"
	"github.com/fortytw2/leaktest"
)

func TestLocal(t *testing.T) {
	defer leaktest.Check(t)()

	loc := peers.NewLocal(nil)
	defer func() {
		if err := loc.Stop(); err != nil {
			t.Errorf("Stop: %v", err)
		}
	}()
	loc.Listen().OnData(func(req *quicr.Request) {
		req.Reply.Write(payload.Text("re: " + req.Message.String()))
	})

	got, err := peers.Await(t.Context(), loc.Send(t.Context(), payload.Text("hello")))
	if err != nil {
		t.Fatalf("Send: unexpected error: %v", err)
	}
	if got.String() != "re: hello" {
		t.Errorf("Reply: got %q, want %q", got, "re: hello")
	}
	if n := loc.Network.Dials(); n != 1 {
		t.Errorf("Dials: got %d, want 1", n)
	}
}

func TestAwaitError(t *testing.T) {
	defer leaktest.Check(t)()

	loc := peers.NewLocal(nil)
	defer loc.Stop()

	// Nothing is listening, so the send fails to connect.
	_, err := peers.Await(t.Context(), loc.Send(t.Context(), payload.Text("hello")))
	if got := quicr.ClassOf(err); got != quicr.ClientError {
		t.Errorf("Send: got error %v (class %q), want %q", err, got, quicr.ClientError)
	} else {
		t.Logf("Error OK: %v", err)
	}
}

func TestAwaitContext(t *testing.T) {
	ev := quicr.NewEvents[int]()
	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
	defer cancel()

	v, err := peers.Await(ctx, ev)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Await: got (%v, %v), want %v", v, err, context.DeadlineExceeded)
	}
}

func TestServe(t *testing.T) {
	defer leaktest.Check(t)()

	loc := peers.NewLocal(nil)
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	srv := taskgroup.Go(func() error {
		return peers.Serve(ctx, loc.Server, loc.Port, "", func(req *quicr.Request) {
			time.Sleep(3 * time.Millisecond)
			req.Reply.Write(payload.Bytes(req.Message))
		})
	})
	// Wait for the server to bind before sending.
	for loc.Server.Listener() == nil {
		time.Sleep(time.Millisecond)
	}

	const numClients = 5
	const numSends = 5
	t.Logf("Clients: %d, sends per client: %d", numClients, numSends)

	g := taskgroup.New(func(err error) {
		cancel()
		t.Errorf("Task error: %v", err)
	})
	for i := range numClients {
		g.Go(func() error {
			for j := range numSends {
				want := fmt.Sprintf("client %d send %d", i, j)
				got, err := peers.Await(t.Context(), loc.Send(t.Context(), payload.Text(want)))
				if err != nil {
					return err
				} else if got.String() != want {
					return fmt.Errorf("reply: got %q, want %q", got, want)
				}
			}
			return nil
		})
	}
	t.Logf("Clients finished, err=%v", g.Wait())
	cancel()
	if err := srv.Wait(); err != nil {
		t.Errorf("Serve: unexpected error: %v", err)
	}
	loc.Client.Wait()
	if n := loc.Network.Dials(); n != numClients*numSends {
		t.Errorf("Dials: got %d, want %d", n, numClients*numSends)
	}
}

func TestServeBindError(t *testing.T) {
	defer leaktest.Check(t)()

	loc := peers.NewLocal(nil)
	defer loc.Stop()
	loc.Listen()

	// The port is already bound by the local server.
	other := quicr.NewServer(&quicr.Options{Transport: loc.Network})
	err := peers.Serve(t.Context(), other, loc.Port, "", func(*quicr.Request) {})
	if got := quicr.ClassOf(err); got != quicr.ServerError {
		t.Errorf("Serve: got error %v, want %q", err, quicr.ServerError)
	} else {
		t.Logf("Error OK: %v", err)
	}
}
