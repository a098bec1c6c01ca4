package bigseq

import (
	"fmt"

	"github.com/grailbio/base/errors"
)

// Error kinds, named per spec.md §7's taxonomy. These wrap
// github.com/grailbio/base/errors kinds rather than inventing a parallel
// error type hierarchy.

// ErrPartitionInvalid reports that the responsibility planner could not
// give every block at least one element. Per spec.md §7 this is promoted
// to fatal rather than left as a warning.
func ErrPartitionInvalid(size, totalBlocks int) error {
	return errors.E(errors.Fatal, errors.Invalid,
		fmt.Sprintf("partition: cannot place %d elements into %d blocks with every block non-empty", size, totalBlocks))
}

// ErrIndexNotLocal reports that a Get/Set request landed on a machine that
// does not own the requested index. This indicates a bug in the owner
// lookup and is always fatal.
func ErrIndexNotLocal(index, startIndex, numElements int) error {
	return errors.E(errors.Fatal, errors.NotExist,
		fmt.Sprintf("index %d not in local range [%d, %d)", index, startIndex, startIndex+numElements))
}

// ErrUnregistered reports that a Generator/Combiner/Mapper name has no
// registration in this process. Since worker processes share the
// coordinator's binary, an unregistered name means the caller passed a
// name it never registered, or registered it in an init() that didn't run
// on the worker -- either way, a CollectiveMismatch per spec.md §7.
func ErrUnregistered(kind, name string) error {
	return errors.E(errors.Fatal, errors.Precondition,
		fmt.Sprintf("%s %q is not registered in this process", kind, name))
}
