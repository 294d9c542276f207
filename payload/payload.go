// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

// Package payload defines the values exchanged by quicr peers.
//
// An outbound value is a [Payload], whose kind is chosen explicitly by the
// sender: raw bytes, plain text, or a structured value to be serialized as
// JSON. Bytes and text are sent unchanged.
//
// An inbound value is a [Message], which holds exactly the bytes that arrived.
// A Message is never interpreted automatically: the wire does not record
// whether the sender encoded a structured value or sent plain text, so the
// receiver decides, using [Message.String], [Message.Decode], or
// [Message.Unmarshal]. This rule is the same for servers and clients.
package payload

import (
	"bytes"
	"encoding"
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// Kind identifies how a Payload is encoded for the wire.
type Kind byte

const (
	KindNone  Kind = iota // no payload
	KindBytes             // raw bytes, sent unchanged
	KindText              // plain text, sent unchanged
	KindJSON              // a structured value, sent as JSON
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindBytes:
		return "bytes"
	case KindText:
		return "text"
	case KindJSON:
		return "json"
	default:
		return fmt.Sprintf("kind:%d", byte(k))
	}
}

// A Payload is a value to be sent to a peer. The zero value is an absent
// payload, which senders reject.
type Payload struct {
	kind  Kind
	data  []byte
	text  string
	value any
}

// Bytes returns a payload that sends data unchanged. An empty or nil slice is
// a valid, zero-length payload.
func Bytes(data []byte) Payload { return Payload{kind: KindBytes, data: data} }

// Text returns a payload that sends the bytes of s unchanged. An empty string
// is a valid, zero-length payload.
func Text(s string) Payload { return Payload{kind: KindText, text: s} }

// JSON returns a payload that sends the JSON encoding of v.
// As a special case, JSON(nil) is an absent payload.
func JSON(v any) Payload {
	if v == nil {
		return Payload{}
	}
	return Payload{kind: KindJSON, value: v}
}

// Kind reports the kind of p.
func (p Payload) Kind() Kind { return p.kind }

// IsZero reports whether p is absent.
func (p Payload) IsZero() bool { return p.kind == KindNone }

// Encode returns the wire form of p. Encoding bytes or text does not fail;
// encoding a JSON payload reports an error if the value cannot be marshaled.
func (p Payload) Encode() ([]byte, error) {
	switch p.kind {
	case KindBytes:
		return p.data, nil
	case KindText:
		return []byte(p.text), nil
	case KindJSON:
		data, err := json.Marshal(p.value)
		if err != nil {
			return nil, fmt.Errorf("encode json payload: %w", err)
		}
		return data, nil
	case KindNone:
		return nil, fmt.Errorf("encode: payload is absent")
	default:
		return nil, fmt.Errorf("encode: invalid payload kind %v", p.kind)
	}
}

// String returns a human-friendly rendering of the payload.
func (p Payload) String() string {
	switch p.kind {
	case KindBytes:
		return fmt.Sprintf("Payload(bytes, %d bytes)", len(p.data))
	case KindText:
		return fmt.Sprintf("Payload(text, %q)", truncate(p.text, 32))
	case KindJSON:
		return fmt.Sprintf("Payload(json, %T)", p.value)
	default:
		return "Payload(none)"
	}
}

// A Message is the content of one complete inbound message.
type Message []byte

// Bytes returns the raw content of m.
func (m Message) Bytes() []byte { return m }

// String returns the content of m as text.
func (m Message) String() string { return string(m) }

// Brief returns the content of m as a string of at most n bytes, plus a
// trailing "..." if it was shortened. It does not split a UTF-8 encoding.
func (m Message) Brief(n int) string { return truncate(string(m), n) }

// Len reports the length of m in bytes.
func (m Message) Len() int { return len(m) }

// Decode decodes the content of m as JSON into v.
func (m Message) Decode(v any) error {
	if err := json.Unmarshal(m, v); err != nil {
		return fmt.Errorf("decode json message: %w", err)
	}
	return nil
}

// Unmarshal decodes m into v. The concrete type of v must be a pointer to a
// []byte or string, or implement encoding.BinaryUnmarshaler or
// encoding.TextUnmarshaler; otherwise the content is decoded as JSON.  If v
// implements both unmarshaler interfaces, BinaryUnmarshaler is preferred.
func (m Message) Unmarshal(v any) error {
	switch t := v.(type) {
	case *[]byte:
		*t = bytes.Clone(m)
	case *string:
		*t = string(m)
	case *Message:
		*t = bytes.Clone(m)
	case encoding.BinaryUnmarshaler:
		return t.UnmarshalBinary(m)
	case encoding.TextUnmarshaler:
		return t.UnmarshalText(m)
	default:
		return m.Decode(v)
	}
	return nil
}

// truncate returns a prefix of s no longer than n bytes that does not end in
// a partial UTF-8 encoding, marked with "..." if anything was removed.
func truncate(s string, n int) string {
	if n >= len(s) {
		return s
	}
	n = max(n, 0)
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
