// Package bigseq defines the surface shared by the distributed and serial
// sequence implementations: a large ordered collection of a uniform
// element type, partitioned across a cluster of nodes and across threads
// within each node, with a small set of bulk-parallel operations.
//
// Concrete implementations live in exec (distributed, bigmachine-backed)
// and serialseq (single-process reference). Both implement Sequence[T];
// Map is a free function per implementation because Go does not allow a
// generic method to introduce a new type parameter.
package bigseq
