// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package sliceio provides a small, chunked reader abstraction over a
// local partition's elements, repurposed from bigslice's columnar
// sliceio.Reader contract for this spec's plain []T element storage:
// Sequence.Print and tests use it to pull an entire partition back
// without issuing one RPC per element.
package sliceio

import (
	"context"
	"errors"
)

// EOF is returned by Reader.Read when no further elements remain. It is
// never wrapped, exactly like io.EOF and bigslice's own sliceio.EOF, so
// callers compare against it with ==.
var EOF = errors.New("EOF")

// Reader reads elements of type T in chunks into a caller-provided
// buffer, the same shape as bigslice's frame-oriented Reader but over a
// plain slice.
type Reader[T any] interface {
	// Read reads up to len(buf) elements into buf, returning the number
	// read. It returns EOF once (possibly together with a final nonzero
	// n) when the underlying data is exhausted.
	Read(ctx context.Context, buf []T) (int, error)
}

// ReadFull reads from r until buf is completely filled or r returns an
// error (including EOF), mirroring bigslice's sliceio.ReadFull.
func ReadFull[T any](ctx context.Context, r Reader[T], buf []T) (int, error) {
	var n int
	for n < len(buf) {
		k, err := r.Read(ctx, buf[n:])
		n += k
		if err != nil {
			return n, err
		}
		if k == 0 {
			return n, EOF
		}
	}
	return n, nil
}

// sliceReader is a Reader over an in-memory slice, used to export a
// worker's local block data or an array-backed test fixture.
type sliceReader[T any] struct {
	data []T
	off  int
}

// NewSliceReader returns a Reader that serves data in order, one chunk
// per Read call.
func NewSliceReader[T any](data []T) Reader[T] {
	return &sliceReader[T]{data: data}
}

func (r *sliceReader[T]) Read(ctx context.Context, buf []T) (int, error) {
	if r.off >= len(r.data) {
		return 0, EOF
	}
	n := copy(buf, r.data[r.off:])
	r.off += n
	return n, nil
}
