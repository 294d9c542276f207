// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

// Package message assembles logical messages from transport chunks.
//
// A message is the complete content of one stream direction, bounded by the
// end-of-stream signal from the transport. The transport delivers the content
// in chunks of arbitrary size; an [Assembler] concatenates them in arrival
// order, and [Read] drives an assembler from an [io.Reader] until it reports
// end of stream.
package message

import (
	"errors"
	"fmt"
	"io"
)

// DefaultLimit is the default maximum message size in bytes.
const DefaultLimit = 8 << 20

// chunkSize is the size of the buffer Read uses for each transport read.
const chunkSize = 32 << 10

var (
	// ErrTooLarge is reported when a message exceeds the assembler limit.
	ErrTooLarge = errors.New("message too large")

	// ErrFinished is reported when a chunk is added to a finished message.
	ErrFinished = errors.New("message already finished")
)

// An Assembler accumulates the chunks of a single message. An assembler is
// bound to one stream and must not be reused. It is not safe for concurrent
// use.
type Assembler struct {
	buf   []byte
	limit int
	done  bool
}

// NewAssembler constructs an assembler for a message of at most limit bytes.
// If limit <= 0, the size of the message is not limited.
func NewAssembler(limit int) *Assembler { return &Assembler{limit: limit} }

// Add appends a copy of chunk to the message. Add may be called any number
// of times before Finish, including zero. Empty chunks are ignored.
func (a *Assembler) Add(chunk []byte) error {
	if a.done {
		return ErrFinished
	}
	if a.limit > 0 && len(a.buf)+len(chunk) > a.limit {
		return fmt.Errorf("%w (limit %d bytes)", ErrTooLarge, a.limit)
	}
	a.buf = append(a.buf, chunk...)
	return nil
}

// Finish marks the message complete and returns its content. If no chunks
// were added, the result is empty but non-nil. After Finish, further calls to
// Add report ErrFinished and further calls to Finish return the same content.
func (a *Assembler) Finish() []byte {
	a.done = true
	if a.buf == nil {
		a.buf = []byte{}
	}
	return a.buf[:len(a.buf):len(a.buf)]
}

// Len reports the number of bytes accumulated so far.
func (a *Assembler) Len() int { return len(a.buf) }

// Read reads chunks from r until it reports io.EOF, and returns the assembled
// message. Any other error from r is returned, along with ErrTooLarge if the
// message exceeds limit bytes (limit <= 0 means no limit).
func Read(r io.Reader, limit int) ([]byte, error) {
	a := NewAssembler(limit)
	buf := make([]byte, chunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if aerr := a.Add(buf[:n]); aerr != nil {
				return nil, aerr
			}
		}
		if err == io.EOF {
			return a.Finish(), nil
		} else if err != nil {
			return nil, err
		}
	}
}
