// Package partition computes the Responsibility table: the globally
// agreed mapping from contiguous blocks of a sequence to the node that
// owns each block. Every node must call Plan with identical arguments so
// that every node computes an identical table (spec.md §4.1).
package partition

import (
	"math/rand"
	"sort"

	"github.com/grailbio/base/errors"
)

// Responsibility describes one block of the logical sequence: the node
// that owns it, its global start index, and its length.
type Responsibility struct {
	ProcID      int
	StartIndex  int
	NumElements int
}

// Assignment selects how blocks are assigned to nodes.
type Assignment int

const (
	// Interleaved assigns block b to node b mod procs.
	Interleaved Assignment = iota
	// Randomized starts from the interleaved assignment and shuffles it
	// using a seed that must be identical on every node.
	Randomized
)

// Sizing selects how block sizes are chosen.
type Sizing int

const (
	// Uniform gives every block size/totalBlocks elements, with the
	// first size%totalBlocks blocks getting one extra element.
	Uniform Sizing = iota
	// Adjusted biases block size by each node's measured speed
	// (procTimes), per the formula in spec.md §4.1.
	Adjusted
)

// Mode configures the planner.
type Mode struct {
	Assignment Assignment
	Sizing     Sizing
}

// DefaultMode matches spec.md's "default-on" configuration: randomized
// assignment, speed-adjusted sizing.
var DefaultMode = Mode{Assignment: Randomized, Sizing: Adjusted}

// Plan computes the responsibility table for a sequence of size elements
// distributed across procs nodes, blocksPerProc blocks per node. procTimes
// must have length procs and is only consulted when mode.Sizing is
// Adjusted. seed must be identical on every node when mode.Assignment is
// Randomized (the caller is expected to broadcast it from one node, per
// spec.md §4.1).
//
// Plan returns an error (and a best-effort table) if any block would end
// up with fewer than one element: spec.md §9 resolves the original
// implementation's "emit a warning and continue" policy in favor of
// rejecting the configuration outright.
func Plan(size, procs, blocksPerProc int, procTimes []int, seed uint64, mode Mode) ([]Responsibility, error) {
	if procs < 1 || blocksPerProc < 1 {
		return nil, errors.E(errors.Invalid, "partition: procs and blocksPerProc must be >= 1")
	}
	totalBlocks := procs * blocksPerProc

	partToNode := make([]int, totalBlocks)
	for b := range partToNode {
		partToNode[b] = b % procs
	}
	if mode.Assignment == Randomized {
		shuffle(partToNode, seed)
	}

	var sizes []int
	switch mode.Sizing {
	case Uniform:
		sizes = uniformSizes(size, totalBlocks)
	case Adjusted:
		if len(procTimes) != procs {
			return nil, errors.E(errors.Invalid, "partition: procTimes must have length procs")
		}
		sizes = adjustedSizes(size, procs, blocksPerProc, procTimes, partToNode)
	default:
		return nil, errors.E(errors.Invalid, "partition: unknown sizing mode")
	}

	resp := make([]Responsibility, totalBlocks)
	start := 0
	var invalid bool
	for b := 0; b < totalBlocks; b++ {
		resp[b] = Responsibility{
			ProcID:      partToNode[b],
			StartIndex:  start,
			NumElements: sizes[b],
		}
		start += sizes[b]
		if sizes[b] < 1 {
			invalid = true
		}
	}
	if invalid || start != size {
		return resp, errors.E(errors.Fatal, errors.Invalid, "partition: size too small for totalBlocks (every block requires >= 1 element)")
	}
	return resp, nil
}

// shuffle implements the exact permutation spec.md §4.1 mandates: element
// at index i is swapped with a uniform random index in [0, i). This is
// deliberately not rand.Shuffle, whose documented algorithm swaps i with a
// value in [0, i] -- a different distribution -- and is not guaranteed
// stable across Go versions (spec.md §9's open question).
func shuffle(a []int, seed uint64) {
	rng := rand.New(rand.NewSource(int64(seed)))
	for i := 1; i < len(a); i++ {
		j := rng.Intn(i)
		a[i], a[j] = a[j], a[i]
	}
}

func uniformSizes(size, totalBlocks int) []int {
	blockSize := size / totalBlocks
	leftover := size % totalBlocks
	sizes := make([]int, totalBlocks)
	for b := range sizes {
		if b < leftover {
			sizes[b] = blockSize + 1
		} else {
			sizes[b] = blockSize
		}
	}
	return sizes
}

// adjustedSizes implements spec.md §4.1's load-balanced sizing: block b on
// node p is tentatively sized floor(procTimes[p]*size/(blocksPerProc*systemTime)),
// clamped to >= 1; the residual (positive or negative) is then distributed
// by incrementing/decrementing subsequent blocks round-robin, never taking
// a block below 1, until the total equals size exactly.
func adjustedSizes(size, procs, blocksPerProc int, procTimes []int, partToNode []int) []int {
	totalBlocks := procs * blocksPerProc
	systemTime := 0
	for _, t := range procTimes {
		systemTime += t
	}
	sizes := make([]int, totalBlocks)
	total := 0
	for b := 0; b < totalBlocks; b++ {
		p := partToNode[b]
		var tentative int
		if systemTime > 0 {
			tentative = (procTimes[p] * size) / (blocksPerProc * systemTime)
		}
		if tentative < 1 {
			tentative = 1
		}
		sizes[b] = tentative
		total += tentative
	}

	residual := size - total
	for residual != 0 && totalBlocks > 0 {
		progressed := false
		for b := 0; b < totalBlocks && residual != 0; b++ {
			switch {
			case residual > 0:
				sizes[b]++
				residual--
				progressed = true
			case residual < 0 && sizes[b] > 1:
				sizes[b]--
				residual++
				progressed = true
			}
		}
		if !progressed {
			// Every block is already at the floor of 1 and residual is
			// still negative: size is too small for totalBlocks. Plan
			// will detect and report this via the NumElements < 1 check
			// a caller performs after sizes are finalized (here, sizes
			// stay at 1 and the overall sum will exceed size; Plan's
			// start != size check catches it).
			break
		}
	}
	return sizes
}

// OwnerOf returns the index of the block in resp that contains index,
// using binary search over StartIndex. resp must be sorted by StartIndex
// (Plan's output always is).
func OwnerOf(resp []Responsibility, index int) int {
	return sort.Search(len(resp), func(i int) bool {
		return resp[i].StartIndex+resp[i].NumElements > index
	})
}
