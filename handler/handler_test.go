// Copyright (C) 2023 Michael J. Fromberger. All Rights Reserved.

package handler_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/creachadair/quicr"
	"github.com/creachadair/quicr/handler"
	"github.com/creachadair/quicr/payload"
	"github.com/creachadair/quicr/peers"
	"github.com/fortytw2/leaktest"
)

type tvText string

func (v tvText) MarshalText() ([]byte, error)     { return []byte(v), nil }
func (v *tvText) UnmarshalText(data []byte) error { *v = tvText(data); return nil }

type tvBinary string

func (v tvBinary) MarshalBinary() ([]byte, error)     { return []byte(v), nil }
func (v *tvBinary) UnmarshalBinary(data []byte) error { *v = tvBinary(data); return nil }

type point struct {
	X, Y int
}

func TestHandler(t *testing.T) {
	defer leaktest.Check(t)()
	loc := peers.NewLocal(nil)
	defer loc.Stop()
	ev := loc.Listen()

	send := func(t *testing.T, input payload.Payload, h func(*quicr.Request)) (payload.Message, error) {
		t.Helper()
		ev.Clear() // discard earlier requests so h sees only this one
		ev.OnData(h)
		ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
		defer cancel()
		return peers.Await(ctx, loc.Send(ctx, input))
	}
	check := func(t *testing.T, want string, fail bool, h func(*quicr.Request)) {
		t.Helper()
		rsp, err := send(t, payload.Text("input"), h)
		if err != nil {
			if !fail {
				t.Fatalf("Send: unexpected error: %v", err)
			} else if c := quicr.ClassOf(err); c != quicr.ClientStreamError {
				t.Fatalf("Send: got error %v, want %q", err, quicr.ClientStreamError)
			}
			t.Logf("Error OK: %v", err)
		} else if fail {
			t.Fatalf("Send: got %q, want error", rsp)
		} else if got := rsp.String(); got != want {
			t.Errorf("Send result: got %q, want %q", got, want)
		}
	}
	checkReq := func(t *testing.T, ctx context.Context) {
		t.Helper()
		if req := handler.ContextRequest(ctx); req == nil {
			t.Error("Context does not contain request")
		} else if req.Message.String() != "input" {
			t.Errorf("Context request: got %q, want %q", req.Message, "input")
		}
	}

	t.Run("Echo", func(t *testing.T) {
		check(t, "input", false, handler.Echo)
	})

	t.Run("PRE", func(t *testing.T) {
		t.Run("StringString", func(t *testing.T) {
			check(t, "input-ok", false, handler.ParamResultError(
				func(ctx context.Context, s string) (string, error) {
					checkReq(t, ctx)
					return s + "-ok", nil
				},
			))
		})
		t.Run("StringByte", func(t *testing.T) {
			check(t, "input-ok", false, handler.ParamResultError(
				func(ctx context.Context, s string) ([]byte, error) {
					checkReq(t, ctx)
					return []byte(s + "-ok"), nil
				},
			))
		})
		t.Run("TextByte", func(t *testing.T) {
			check(t, "input-ok", false, handler.ParamResultError(
				func(ctx context.Context, s tvText) ([]byte, error) {
					checkReq(t, ctx)
					return []byte(s + "-ok"), nil
				},
			))
		})
		t.Run("BinaryText", func(t *testing.T) {
			check(t, "input-ok", false, handler.ParamResultError(
				func(ctx context.Context, s tvBinary) (tvText, error) {
					checkReq(t, ctx)
					return tvText(s + "-ok"), nil
				},
			))
		})
		t.Run("Error", func(t *testing.T) {
			check(t, "", true, handler.ParamResultError(
				func(ctx context.Context, s string) (string, error) {
					checkReq(t, ctx)
					return "", errors.New("bad robot")
				},
			))
		})
		t.Run("BadParam", func(t *testing.T) {
			check(t, "", true, handler.ParamResultError(
				func(ctx context.Context, p point) (string, error) {
					t.Error("Handler called with invalid parameters")
					return "", nil
				},
			))
		})
	})

	t.Run("PR", func(t *testing.T) {
		t.Run("StringString", func(t *testing.T) {
			check(t, "input-ok", false, handler.ParamResult(
				func(ctx context.Context, s string) string { checkReq(t, ctx); return s + "-ok" },
			))
		})
		t.Run("TextByte", func(t *testing.T) {
			check(t, "input-ok", false, handler.ParamResult(
				func(ctx context.Context, s tvText) []byte { checkReq(t, ctx); return []byte(s + "-ok") },
			))
		})
		t.Run("NilString", func(t *testing.T) {
			check(t, "", false, handler.ParamResult(
				func(ctx context.Context, s string) *string { checkReq(t, ctx); return nil },
			))
		})
	})

	t.Run("PE", func(t *testing.T) {
		t.Run("OK", func(t *testing.T) {
			check(t, "", false, handler.ParamError(
				func(ctx context.Context, b []byte) error { checkReq(t, ctx); return nil },
			))
		})
		t.Run("Error", func(t *testing.T) {
			check(t, "", true, handler.ParamError(
				func(ctx context.Context, s tvBinary) error { checkReq(t, ctx); return errors.New("no") },
			))
		})
	})

	t.Run("RE", func(t *testing.T) {
		t.Run("String", func(t *testing.T) {
			check(t, "please", false, handler.ResultError(
				func(ctx context.Context) (string, error) { checkReq(t, ctx); return "please", nil },
			))
		})
		t.Run("Error", func(t *testing.T) {
			check(t, "", true, handler.ResultError(
				func(ctx context.Context) (tvText, error) { checkReq(t, ctx); return "", errors.New("no") },
			))
		})
	})

	t.Run("RO", func(t *testing.T) {
		t.Run("Binary", func(t *testing.T) {
			check(t, "loudly", false, handler.ResultOnly(
				func(ctx context.Context) tvBinary { checkReq(t, ctx); return "loudly" },
			))
		})
		t.Run("Payload", func(t *testing.T) {
			check(t, "as is", false, handler.ResultOnly(
				func(ctx context.Context) payload.Payload { return payload.Text("as is") },
			))
		})
	})

	t.Run("JSON", func(t *testing.T) {
		rsp, err := send(t, payload.JSON(point{X: 3, Y: 4}), handler.ParamResult(
			func(_ context.Context, p point) point { return point{X: p.Y, Y: p.X} },
		))
		if err != nil {
			t.Fatalf("Send: unexpected error: %v", err)
		}
		var got point
		if err := rsp.Decode(&got); err != nil {
			t.Fatalf("Decode %q: %v", rsp, err)
		}
		if want := (point{X: 4, Y: 3}); got != want {
			t.Errorf("Result: got %+v, want %+v", got, want)
		}
	})
}
