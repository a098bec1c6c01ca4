// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"fmt"
	"sync"

	"github.com/ananyakumar/bigseq"
	"github.com/ananyakumar/bigseq/internal/partition"
	"github.com/ananyakumar/bigseq/internal/threadreduce"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/sync/ctxsync"
	"github.com/grailbio/base/sync/once"
	"github.com/grailbio/bigmachine"
)

// Worker is the bigmachine RPC service registered on every spawned
// machine. It holds the local blocks of every sequence that has been
// allocated on this machine, keyed by the coordinator-assigned sequence
// id, and performs the intra-node parts of every collective operation
// (spec.md §4.2's "local parts store" plus §4.3's remote window, §4.4's
// intra-node reducer).
//
// A Worker has no notion of T: elements cross the RPC boundary boxed as
// interface{}, and are only unboxed by the registered generator,
// combiner, or mapper named in each request, exactly as bigseq's
// registry is designed to allow (see registry.go).
type Worker struct {
	b *bigmachine.B

	mu sync.Mutex
	// cond signals part()'s waiters every time allocating changes --
	// mirrors worker.cond/CommitCombiner's wait-on-state-change loop in
	// exec/bigmachine.go.
	cond       *ctxsync.Cond
	parts      map[int64]*seqPart
	allocating map[int64]bool
	// allocs makes Alloc idempotent per sequence id, exactly as
	// exec/bigmachine.go's worker.compiles (a once.Map) makes Compile
	// idempotent per invocation: a retried Alloc RPC for the same id must
	// not re-run (and re-randomize, for generators with side effects) the
	// allocation.
	allocs once.Map
	next   int64
}

// seqPart is one sequence's worth of state on a single machine: the
// blocks this machine owns (a subset of the full responsibility table)
// and their data.
type seqPart struct {
	mu      sync.Mutex
	blocks  []partition.Responsibility
	data    [][]interface{}
	threads int
}

func (w *Worker) Init(b *bigmachine.B) error {
	w.b = b
	w.cond = ctxsync.NewCond(&w.mu)
	w.parts = make(map[int64]*seqPart)
	w.allocating = make(map[int64]bool)
	log.Printf("exec: worker ready")
	return nil
}

// part resolves id to its local storage, waiting on w.cond if an Alloc for
// id is currently in flight (the same wait-for-state-change loop
// CommitCombiner in exec/bigmachine.go runs over w.combinerStates). If no
// Alloc for id has ever started, it fails immediately rather than waiting
// forever for a Broadcast that will never come.
func (w *Worker) part(ctx context.Context, id int64) (*seqPart, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for {
		if p, ok := w.parts[id]; ok {
			return p, nil
		}
		if !w.allocating[id] {
			return nil, errors.E(errors.Fatal, errors.NotExist, fmt.Sprintf("exec: no such sequence part %d", id))
		}
		if err := w.cond.Wait(ctx); err != nil {
			return nil, err
		}
	}
}

// blockFor returns the index into p.blocks/p.data owning the global
// index, and the offset within that block's data slice.
func (p *seqPart) blockFor(index int) (block, offset int, err error) {
	for i, r := range p.blocks {
		if index >= r.StartIndex && index < r.StartIndex+r.NumElements {
			return i, index - r.StartIndex, nil
		}
	}
	return 0, 0, bigseq.ErrIndexNotLocal(index, -1, -1)
}

// AllocRequest asks a worker to reserve storage for the blocks it owns
// (a filtered view of the full responsibility table), optionally
// tabulating them immediately from a registered generator.
type AllocRequest struct {
	SeqID         int64
	Blocks        []partition.Responsibility
	Threads       int
	GeneratorName string // empty: leave blocks zero-valued until SetBlock
}

// Alloc reserves storage for req.SeqID's locally owned blocks. It is
// idempotent per req.SeqID via w.allocs, so a retried Alloc RPC (the
// collective fan-out in exec/executor.go retries transient RPC failures)
// never double-allocates or re-tabulates a sequence that a prior, in-flight
// attempt already completed.
func (w *Worker) Alloc(ctx context.Context, req AllocRequest, _ *struct{}) error {
	w.mu.Lock()
	w.allocating[req.SeqID] = true
	w.mu.Unlock()

	err := w.allocs.Do(req.SeqID, func() error {
		data := make([][]interface{}, len(req.Blocks))
		var gen func(int) interface{}
		if req.GeneratorName != "" {
			var ok bool
			gen, ok = bigseq.ErasedGenerator(req.GeneratorName)
			if !ok {
				return bigseq.ErrUnregistered("generator", req.GeneratorName)
			}
		}
		for i, r := range req.Blocks {
			buf := make([]interface{}, r.NumElements)
			if gen != nil {
				var wg sync.WaitGroup
				for _, rg := range threadreduce.ThreadRanges(r.NumElements, req.Threads) {
					if rg.Len == 0 {
						continue
					}
					rg := rg
					wg.Add(1)
					go func() {
						defer wg.Done()
						for j := rg.Start; j < rg.Start+rg.Len; j++ {
							buf[j] = gen(r.StartIndex + j)
						}
					}()
				}
				wg.Wait()
			}
			data[i] = buf
		}
		w.mu.Lock()
		w.parts[req.SeqID] = &seqPart{blocks: req.Blocks, data: data, threads: req.Threads}
		w.mu.Unlock()
		return nil
	})

	w.mu.Lock()
	delete(w.allocating, req.SeqID)
	w.mu.Unlock()
	w.cond.Broadcast()
	return err
}

// SetBlockRequest supplies literal element data for one of a sequence's
// locally owned blocks, used by NewFromArray to ship each node its slice
// of the source array.
type SetBlockRequest struct {
	SeqID int64
	Block int
	Data  []interface{}
}

func (w *Worker) SetBlock(ctx context.Context, req SetBlockRequest, _ *struct{}) error {
	p, err := w.part(ctx, req.SeqID)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if req.Block < 0 || req.Block >= len(p.data) {
		return errors.E(errors.Fatal, errors.Invalid, "exec: block index out of range")
	}
	p.data[req.Block] = req.Data
	return nil
}

// Free releases a sequence's storage on this machine.
func (w *Worker) Free(ctx context.Context, id int64, _ *struct{}) error {
	w.mu.Lock()
	delete(w.parts, id)
	delete(w.allocating, id)
	w.mu.Unlock()
	w.cond.Broadcast()
	return nil
}

// TransformRequest asks a worker to apply a registered mapper in place
// over every element it owns (spec.md §4.8's Transform).
type TransformRequest struct {
	SeqID      int64
	MapperName string
}

func (w *Worker) Transform(ctx context.Context, req TransformRequest, _ *struct{}) (err error) {
	defer func() {
		if e := recover(); e != nil {
			err = errors.E(errors.Fatal, fmt.Errorf("exec: transform panic: %v", e))
		}
	}()
	p, err := w.part(ctx, req.SeqID)
	if err != nil {
		return err
	}
	fn, ok := bigseq.ErasedMapper(req.MapperName)
	if !ok {
		return bigseq.ErrUnregistered("mapper", req.MapperName)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for bi, block := range p.data {
		var wg sync.WaitGroup
		for _, rg := range threadreduce.ThreadRanges(len(block), p.threads) {
			if rg.Len == 0 {
				continue
			}
			rg := rg
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := rg.Start; j < rg.Start+rg.Len; j++ {
					block[j] = fn(block[j])
				}
			}()
		}
		wg.Wait()
		p.data[bi] = block
	}
	return nil
}

// MapRequest is Transform's type-changing sibling: it leaves the source
// sequence alone and writes the mapped elements into a freshly allocated
// destination sequence colocated block-for-block on the same machine
// (spec.md §4.8's Map).
type MapRequest struct {
	SrcSeqID, DstSeqID int64
	MapperName         string
}

func (w *Worker) Map(ctx context.Context, req MapRequest, _ *struct{}) (err error) {
	defer func() {
		if e := recover(); e != nil {
			err = errors.E(errors.Fatal, fmt.Errorf("exec: map panic: %v", e))
		}
	}()
	src, err := w.part(ctx, req.SrcSeqID)
	if err != nil {
		return err
	}
	fn, ok := bigseq.ErasedMapper(req.MapperName)
	if !ok {
		return bigseq.ErrUnregistered("mapper", req.MapperName)
	}
	src.mu.Lock()
	dst := &seqPart{blocks: src.blocks, data: make([][]interface{}, len(src.data)), threads: src.threads}
	for bi, block := range src.data {
		out := make([]interface{}, len(block))
		var wg sync.WaitGroup
		for _, rg := range threadreduce.ThreadRanges(len(block), src.threads) {
			if rg.Len == 0 {
				continue
			}
			rg := rg
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := rg.Start; j < rg.Start+rg.Len; j++ {
					out[j] = fn(block[j])
				}
			}()
		}
		wg.Wait()
		dst.data[bi] = out
	}
	src.mu.Unlock()

	w.mu.Lock()
	w.parts[req.DstSeqID] = dst
	w.mu.Unlock()
	return nil
}

// ReduceRequest asks the worker for its contribution toward a global
// reduce: the raw combine (no seed applied) of every element it owns,
// per block, using the thread-parallel intra-node reducer (spec.md §4.4,
// §4.7).
type ReduceRequest struct {
	SeqID        int64
	CombinerName string
}

// ReduceReply returns one raw partial per locally owned block, in the
// same order as the blocks were allocated (which matches the subset of
// the global responsibility table sent in AllocRequest).
type ReduceReply struct {
	Partials []interface{}
}

func (w *Worker) Reduce(ctx context.Context, req ReduceRequest, reply *ReduceReply) (err error) {
	defer func() {
		if e := recover(); e != nil {
			err = errors.E(errors.Fatal, fmt.Errorf("exec: reduce panic: %v", e))
		}
	}()
	p, err := w.part(ctx, req.SeqID)
	if err != nil {
		return err
	}
	combiner, ok := bigseq.ErasedCombiner(req.CombinerName)
	if !ok {
		return bigseq.ErrUnregistered("combiner", req.CombinerName)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	partials := make([]interface{}, len(p.data))
	for bi, block := range p.data {
		blockPartials := threadreduce.PartialReduces(block, p.threads, threadreduce.Combiner(combiner))
		partials[bi] = threadreduce.BlockReduce(blockPartials, threadreduce.Combiner(combiner))
	}
	reply.Partials = partials
	return nil
}

// ApplyScanRequest supplies one externally computed exclusive prefix per
// locally owned block (computed by the coordinator from every machine's
// Reduce results, in global block order) and asks the worker to apply
// the in-place scan over each block (spec.md §4.6).
type ApplyScanRequest struct {
	SeqID        int64
	CombinerName string
	Prefixes     []interface{} // one per locally owned block, aligned with p.data
}

func (w *Worker) ApplyScan(ctx context.Context, req ApplyScanRequest, _ *struct{}) (err error) {
	defer func() {
		if e := recover(); e != nil {
			err = errors.E(errors.Fatal, fmt.Errorf("exec: scan panic: %v", e))
		}
	}()
	p, err := w.part(ctx, req.SeqID)
	if err != nil {
		return err
	}
	combiner, ok := bigseq.ErasedCombiner(req.CombinerName)
	if !ok {
		return bigseq.ErrUnregistered("combiner", req.CombinerName)
	}
	if len(req.Prefixes) != len(p.data) {
		return errors.E(errors.Fatal, errors.Invalid, "exec: scan prefix count does not match local block count")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for bi, block := range p.data {
		partials := threadreduce.PartialReduces(block, p.threads, threadreduce.Combiner(combiner))
		threadreduce.ApplyScanWithPrefix(block, p.threads, threadreduce.Combiner(combiner), req.Prefixes[bi], partials)
	}
	return nil
}

// GetRequest/GetReply implement spec.md §4.3's remote window read.
type GetRequest struct {
	SeqID int64
	Index int
}

type GetReply struct {
	Value interface{}
}

func (w *Worker) Get(ctx context.Context, req GetRequest, reply *GetReply) error {
	p, err := w.part(ctx, req.SeqID)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	bi, off, err := p.blockFor(req.Index)
	if err != nil {
		return err
	}
	reply.Value = p.data[bi][off]
	return nil
}

// SetRequest implements spec.md §4.3's remote window write: always a
// fenced, awaited RPC, never a no-op (DESIGN.md's Open Question #3).
type SetRequest struct {
	SeqID int64
	Index int
	Value interface{}
}

func (w *Worker) Set(ctx context.Context, req SetRequest, _ *struct{}) error {
	p, err := w.part(ctx, req.SeqID)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	bi, off, err := p.blockFor(req.Index)
	if err != nil {
		return err
	}
	p.data[bi][off] = req.Value
	return nil
}

// SnapshotReply returns every element this machine owns, in block order,
// one slice per block -- used by Print and by tests pulling an entire partition
// back in one RPC (sliceio's reader contract wraps this).
type SnapshotReply struct {
	Blocks []partition.Responsibility
	Data   [][]interface{}
}

func (w *Worker) Snapshot(ctx context.Context, id int64, reply *SnapshotReply) error {
	p, err := w.part(ctx, id)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	reply.Blocks = p.blocks
	reply.Data = p.data
	return nil
}

// Benchmark runs the reference micro-benchmark cluster.Init uses to
// measure this machine's relative speed for load-balanced block sizing
// (spec.md §6, grounded on cluster.cpp's allocate/zero timing loop).
func (w *Worker) Benchmark(ctx context.Context, _ struct{}, millis *int) error {
	*millis = runBenchmark()
	return nil
}
