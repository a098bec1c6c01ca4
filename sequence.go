package bigseq

import "context"

// Sequence is the operation set common to every sequence implementation.
// Implementations must not expose their internal buffers; all access goes
// through Get/Set/Transform/Reduce/Scan.
//
// All methods are collective for the distributed implementation: every
// caller in the cluster must invoke the same method, with the same
// arguments, in the same order. The serial implementation has no such
// requirement, but implements the identical surface so that client code
// (and tests) can be written once against the interface.
type Sequence[T any] interface {
	// Length returns the number of elements in the sequence. It requires
	// no communication.
	Length() int

	// Get returns the element at index, identically on every caller.
	Get(ctx context.Context, index int) (T, error)

	// Set writes value at index. Every caller must supply the same
	// (index, value).
	Set(ctx context.Context, index int, value T) error

	// Transform replaces every element in place with mapperName(element).
	// mapperName must have been registered with RegisterMapper[T, T].
	Transform(ctx context.Context, mapperName string) error

	// Reduce folds the sequence with combinerName, seeded by init, and
	// returns the identical result on every caller. combinerName must have
	// been registered with RegisterCombiner[T].
	Reduce(ctx context.Context, combinerName string, init T) (T, error)

	// Scan replaces the sequence in place with its inclusive prefix scan:
	// out[i] = combiner(init, in[0], ..., in[i]).
	Scan(ctx context.Context, combinerName string, init T) error

	// Print writes a human-readable dump of the locally (or, for the
	// serial implementation, entirely) held data.
	Print(ctx context.Context) error

	// Close releases all resources held by the sequence. It must be
	// called exactly once, after which the sequence may not be used.
	Close(ctx context.Context) error
}
