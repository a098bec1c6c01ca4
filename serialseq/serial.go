// Package serialseq implements bigseq.Sequence[T] as a single-threaded,
// single-process reference: the correctness baseline every distributed
// operation in exec is checked against. It is a direct port of
// serial_sequence.h, with no concurrency and no partitioning -- spec.md's
// "serial reference" component.
package serialseq

import (
	"context"
	"fmt"

	"github.com/ananyakumar/bigseq"
	"github.com/grailbio/base/errors"
)

// SerialSequence is the single-process reference implementation of
// bigseq.Sequence[T].
type SerialSequence[T any] struct {
	data []T
}

// NewFromArray copies array into a new SerialSequence.
func NewFromArray[T any](array []T) *SerialSequence[T] {
	data := make([]T, len(array))
	copy(data, array)
	return &SerialSequence[T]{data: data}
}

// NewFromGenerator builds a SerialSequence of n elements, data[i] =
// generator(i), by looking generatorName up in bigseq's registry.
func NewFromGenerator[T any](generatorName string, n int) (*SerialSequence[T], error) {
	gen, err := bigseq.LookupGenerator[T](generatorName)
	if err != nil {
		return nil, err
	}
	data := make([]T, n)
	for i := range data {
		data[i] = gen(i)
	}
	return &SerialSequence[T]{data: data}, nil
}

// Length returns the number of elements.
func (s *SerialSequence[T]) Length() int { return len(s.data) }

// Get returns the element at index.
func (s *SerialSequence[T]) Get(ctx context.Context, index int) (T, error) {
	var zero T
	if index < 0 || index >= len(s.data) {
		return zero, errors.E(errors.Fatal, errors.Invalid, fmt.Sprintf("serialseq: index %d out of range [0, %d)", index, len(s.data)))
	}
	return s.data[index], nil
}

// Set overwrites the element at index.
func (s *SerialSequence[T]) Set(ctx context.Context, index int, value T) error {
	if index < 0 || index >= len(s.data) {
		return errors.E(errors.Fatal, errors.Invalid, fmt.Sprintf("serialseq: index %d out of range [0, %d)", index, len(s.data)))
	}
	s.data[index] = value
	return nil
}

// Transform applies the registered mapper in place over every element.
func (s *SerialSequence[T]) Transform(ctx context.Context, mapperName string) error {
	mapper, err := bigseq.LookupMapper[T, T](mapperName)
	if err != nil {
		return err
	}
	for i := range s.data {
		s.data[i] = mapper(s.data[i])
	}
	return nil
}

// Reduce folds the registered combiner over every element, seeded with
// init.
func (s *SerialSequence[T]) Reduce(ctx context.Context, combinerName string, init T) (T, error) {
	combiner, err := bigseq.LookupCombiner[T](combinerName)
	if err != nil {
		return init, err
	}
	value := init
	for _, v := range s.data {
		value = combiner(value, v)
	}
	return value, nil
}

// Scan replaces every element with the inclusive prefix-combine of
// everything at or before it, seeded with init.
func (s *SerialSequence[T]) Scan(ctx context.Context, combinerName string, init T) error {
	combiner, err := bigseq.LookupCombiner[T](combinerName)
	if err != nil {
		return err
	}
	if len(s.data) == 0 {
		return nil
	}
	s.data[0] = combiner(init, s.data[0])
	for i := 1; i < len(s.data); i++ {
		s.data[i] = combiner(s.data[i-1], s.data[i])
	}
	return nil
}

// Print writes every element to stdout, ten per line, matching
// serial_sequence.h's print() layout.
func (s *SerialSequence[T]) Print(ctx context.Context) error {
	i := 0
	for ; i < len(s.data); i++ {
		fmt.Printf("%v ", s.data[i])
		if i%10 == 9 {
			fmt.Println()
		}
	}
	if i%10 != 0 {
		fmt.Println()
	}
	return nil
}

// Close is a no-op: SerialSequence holds no external resources.
func (s *SerialSequence[T]) Close(ctx context.Context) error { return nil }

// Map applies a registered mapper element-wise and returns a new,
// type-changed SerialSequence. A free function, not a method, for the
// same reason as exec.Map: Go forbids a method introducing a new type
// parameter.
func Map[T, S any](ctx context.Context, s *SerialSequence[T], mapperName string) (*SerialSequence[S], error) {
	mapper, err := bigseq.LookupMapper[T, S](mapperName)
	if err != nil {
		return nil, err
	}
	out := make([]S, len(s.data))
	for i, v := range s.data {
		out[i] = mapper(v)
	}
	return &SerialSequence[S]{data: out}, nil
}

var _ bigseq.Sequence[int] = (*SerialSequence[int])(nil)
