// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package message_test

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/creachadair/quicr/message"
)

func TestAssemblerEmpty(t *testing.T) {
	a := message.NewAssembler(0)
	got := a.Finish()
	if got == nil || len(got) != 0 {
		t.Errorf("Finish with no chunks: got %#v, want empty non-nil", got)
	}
	if err := a.Add([]byte("late")); !errors.Is(err, message.ErrFinished) {
		t.Errorf("Add after Finish: got %v, want %v", err, message.ErrFinished)
	}
	if again := a.Finish(); len(again) != 0 {
		t.Errorf("Second Finish: got %q, want empty", again)
	}
}

// TestBoundaries checks that the assembled message does not depend on where
// the chunk boundaries fall.
func TestBoundaries(t *testing.T) {
	const input = "Lopadotemachoselachogaleokranioleipsanodrimhypotrimmatosilphio"

	// Every single split point.
	for i := 0; i <= len(input); i++ {
		a := message.NewAssembler(0)
		a.Add([]byte(input[:i]))
		a.Add([]byte(input[i:]))
		if got := string(a.Finish()); got != input {
			t.Errorf("Split at %d: got %q, want %q", i, got, input)
		}
	}

	// Every pair of split points.
	for i := 0; i <= len(input); i++ {
		for j := i; j <= len(input); j++ {
			a := message.NewAssembler(0)
			for _, c := range []string{input[:i], input[i:j], input[j:]} {
				if err := a.Add([]byte(c)); err != nil {
					t.Fatalf("Add: unexpected error: %v", err)
				}
			}
			if got := string(a.Finish()); got != input {
				t.Errorf("Split at %d, %d: got %q, want %q", i, j, got, input)
			}
		}
	}

	// One byte at a time.
	a := message.NewAssembler(0)
	for i := range len(input) {
		a.Add([]byte{input[i]})
	}
	if got := string(a.Finish()); got != input {
		t.Errorf("Bytewise: got %q, want %q", got, input)
	}
}

func TestAddCopies(t *testing.T) {
	a := message.NewAssembler(0)
	chunk := []byte("abc")
	a.Add(chunk)
	copy(chunk, "xyz")
	if got := string(a.Finish()); got != "abc" {
		t.Errorf("Finish: got %q, want %q", got, "abc")
	}
}

func TestLimit(t *testing.T) {
	a := message.NewAssembler(5)
	if err := a.Add([]byte("abc")); err != nil {
		t.Fatalf("Add: unexpected error: %v", err)
	}
	if err := a.Add([]byte("de")); err != nil {
		t.Fatalf("Add at limit: unexpected error: %v", err)
	}
	if err := a.Add([]byte("f")); !errors.Is(err, message.ErrTooLarge) {
		t.Errorf("Add over limit: got %v, want %v", err, message.ErrTooLarge)
	}
	if n := a.Len(); n != 5 {
		t.Errorf("Len: got %d, want 5", n)
	}
}

func TestRead(t *testing.T) {
	big := strings.Repeat("0123456789abcdef", 10000) // larger than one read chunk
	tests := []struct {
		name string
		r    io.Reader
		want string
	}{
		{"empty", strings.NewReader(""), ""},
		{"short", strings.NewReader("marissa"), "marissa"},
		{"big", strings.NewReader(big), big},
		{"one byte reads", iotest.OneByteReader(strings.NewReader("beaufeaux")), "beaufeaux"},
		{"half reads", iotest.HalfReader(strings.NewReader(big)), big},
		{"data with EOF", iotest.DataErrReader(strings.NewReader("burfeer")), "burfeer"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := message.Read(tc.r, 0)
			if err != nil {
				t.Fatalf("Read: unexpected error: %v", err)
			}
			if !bytes.Equal(got, []byte(tc.want)) {
				t.Errorf("Read: got %d bytes, want %d", len(got), len(tc.want))
			}
		})
	}
}

func TestReadErrors(t *testing.T) {
	bad := errors.New("stream reset")
	r := io.MultiReader(strings.NewReader("partial"), iotest.ErrReader(bad))
	if got, err := message.Read(r, 0); !errors.Is(err, bad) {
		t.Errorf("Read: got (%q, %v), want %v", got, err, bad)
	}

	if got, err := message.Read(strings.NewReader("too long"), 3); !errors.Is(err, message.ErrTooLarge) {
		t.Errorf("Read: got (%q, %v), want %v", got, err, message.ErrTooLarge)
	}
}
