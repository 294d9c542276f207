// Copyright (C) 2023 Michael J. Fromberger. All Rights Reserved.

// Package handler provides adapters from functions with typed parameters and
// results to data handlers for a quicr.Server.
//
// Parameters are decoded from the request message by [payload.Message.Unmarshal]:
// they may be []byte or string, a type whose pointer supports one of the
// encoding.BinaryUnmarshaler or encoding.TextUnmarshaler interfaces, or any
// other type, which is decoded as JSON.
//
// Results may be []byte or string (or pointers to these), a payload.Payload or
// payload.Message, or any type that supports one of the encoding.BinaryMarshaler
// or encoding.TextMarshaler interfaces. Other results are encoded as JSON.
//
// If a parameter cannot be decoded, the function reports an error, or the
// result cannot be encoded, the reply is failed so that the sender observes a
// stream error.
package handler

import (
	"context"
	"encoding"

	"github.com/creachadair/quicr"
	"github.com/creachadair/quicr/payload"
)

// reqContextKey is a context key for the request value to a handler.
type reqContextKey struct{}

// ContextRequest returns the original request passed to the handler, or nil
// if ctx has no associated request. The context passed to a function adapted
// by this package has this value.
func ContextRequest(ctx context.Context) *quicr.Request {
	if v := ctx.Value(reqContextKey{}); v != nil {
		return v.(*quicr.Request)
	}
	return nil
}

// Echo is a data handler that replies with a copy of the request message.
func Echo(req *quicr.Request) { req.Reply.Write(payload.Bytes(req.Message)) }

// ParamResultError adapts a function f that accepts parameters of type P and
// returns a result of type R and an error, to a data handler.
func ParamResultError[P, R any](f func(context.Context, P) (R, error)) func(*quicr.Request) {
	return func(req *quicr.Request) {
		var p P
		if err := req.Message.Unmarshal(&p); err != nil {
			req.Reply.Fail()
			return
		}
		r, err := f(requestContext(req), p)
		reply(req, r, err)
	}
}

// ParamResult adapts a function f that accepts parameters of type P and
// returns a result of type R without error, to a data handler.
func ParamResult[P, R any](f func(context.Context, P) R) func(*quicr.Request) {
	return func(req *quicr.Request) {
		var p P
		if err := req.Message.Unmarshal(&p); err != nil {
			req.Reply.Fail()
			return
		}
		reply(req, f(requestContext(req), p), nil)
	}
}

// ParamError adapts a function f that accepts parameters of type P and returns
// an error with no result, to a data handler. On success the reply is empty.
func ParamError[P any](f func(context.Context, P) error) func(*quicr.Request) {
	return func(req *quicr.Request) {
		var p P
		if err := req.Message.Unmarshal(&p); err != nil {
			req.Reply.Fail()
			return
		}
		if err := f(requestContext(req), p); err != nil {
			req.Reply.Fail()
			return
		}
		req.Reply.Close()
	}
}

// ResultError adapts a function f that accepts no parameters and returns a
// result of type R and an error, to a data handler. The request message is
// ignored.
func ResultError[R any](f func(context.Context) (R, error)) func(*quicr.Request) {
	return func(req *quicr.Request) {
		r, err := f(requestContext(req))
		reply(req, r, err)
	}
}

// ResultOnly adapts a function f that accepts no parameters and returns a
// result of type R, to a data handler. The request message is ignored.
func ResultOnly[R any](f func(context.Context) R) func(*quicr.Request) {
	return func(req *quicr.Request) { reply(req, f(requestContext(req)), nil) }
}

func requestContext(req *quicr.Request) context.Context {
	ctx := req.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, reqContextKey{}, req)
}

func reply(req *quicr.Request, v any, err error) {
	if err == nil {
		var p payload.Payload
		if p, err = marshal(v); err == nil {
			err = req.Reply.Write(p)
		}
	}
	if err != nil {
		req.Reply.Fail()
	}
}

// marshal converts v into a payload. If v is a []byte or string (or a pointer
// to these), it is sent unchanged; if v implements encoding.BinaryMarshaler
// or encoding.TextMarshaler, its encoding is sent. If v implements both,
// BinaryMarshaler is preferred. Otherwise v is encoded as JSON.
//
// As a special case, if v is a nil pointer to a string or []byte, the result
// is an empty payload.
func marshal(v any) (payload.Payload, error) {
	switch t := v.(type) {
	case payload.Payload:
		return t, nil
	case payload.Message:
		return payload.Bytes(t), nil
	case []byte:
		return payload.Bytes(t), nil
	case *[]byte:
		if t == nil {
			return payload.Bytes(nil), nil
		}
		return payload.Bytes(*t), nil
	case string:
		return payload.Text(t), nil
	case *string:
		if t == nil {
			return payload.Text(""), nil
		}
		return payload.Text(*t), nil
	case encoding.BinaryMarshaler:
		data, err := t.MarshalBinary()
		return payload.Bytes(data), err
	case encoding.TextMarshaler:
		data, err := t.MarshalText()
		return payload.Bytes(data), err
	default:
		return payload.JSON(v), nil
	}
}
