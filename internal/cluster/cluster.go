// Package cluster bootstraps the worker machines a distributed sequence
// runs across: it starts a bigmachine.System, spawns the requested number
// of worker machines, benchmarks each of them, and gathers the results
// into the per-node speed weights the partition planner uses (spec.md
// §4.1's "adjusted" sizing mode) and exposes the cluster layout (spec.md
// §3's ClusterContext) to the rest of the library. It is intentionally a
// thin, external-collaborator-style module: spec.md §1 scopes it out of
// the core engine.
package cluster

import (
	"context"
	"math/rand"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"
	"github.com/grailbio/bigmachine"
	"golang.org/x/sync/errgroup"
)

// Context mirrors spec.md §3's ClusterContext: the immutable, cluster-wide
// facts every node needs to plan partitions and size its own thread pool.
// It is read-only after Init returns (spec.md §5's "Cluster globals are
// immutable after init").
type Context struct {
	Procs          int
	BlocksPerProc  int
	ThreadsPerProc int
	ProcTimes      []int
	SystemTime     int
	Seed           uint64
}

// Cluster holds a running bigmachine session together with the
// ClusterContext it bootstrapped.
type Cluster struct {
	Context
	B        *bigmachine.B
	Machines []*bigmachine.Machine

	// Status reports cluster bootstrap and benchmark progress, the same
	// way exec/eval.go's Eval reports "tasks: runnable: N" against the
	// session's status.Group.
	Status *status.Group
}

// Option configures Init.
type Option func(*options)

type options struct {
	blocksPerProc  int
	threadsPerProc int
	seed           uint64
	haveSeed       bool
}

// WithBlocksPerProc overrides the default of 5 blocks per node.
func WithBlocksPerProc(n int) Option {
	return func(o *options) { o.blocksPerProc = n }
}

// WithThreadsPerProc overrides the default of 2 threads per node.
func WithThreadsPerProc(n int) Option {
	return func(o *options) { o.threadsPerProc = n }
}

// WithSeed fixes the seed used for randomized partition assignment,
// overriding the default of a freshly generated one. Tests use this for
// reproducibility.
func WithSeed(seed uint64) Option {
	return func(o *options) { o.seed = seed; o.haveSeed = true }
}

// BenchmarkFunc runs the reference micro-benchmark on a single machine and
// returns its wall-clock cost in milliseconds, clamped to >= 1 by the
// caller. Init is decoupled from the concrete RPC service that implements
// this (exec.Worker) so that package cluster has no dependency on exec.
type BenchmarkFunc func(ctx context.Context, m *bigmachine.Machine) (millis int, err error)

// Init starts procs worker machines on system (registering the services
// named in params, e.g. bigmachine.Services{"Worker": new(exec.Worker)}),
// benchmarks each one with bench, and all-gathers the results into
// ProcTimes/SystemTime -- the Go-native equivalent of cluster.cpp's
// MPI_Allgather over MPI_COMM_WORLD.
func Init(ctx context.Context, system bigmachine.System, procs int, params []bigmachine.Param, bench BenchmarkFunc, opts ...Option) (*Cluster, error) {
	if procs < 1 {
		return nil, errors.E(errors.Invalid, "cluster: procs must be >= 1")
	}
	o := options{blocksPerProc: 5, threadsPerProc: 2}
	for _, opt := range opts {
		opt(&o)
	}
	if !o.haveSeed {
		o.seed = rand.New(rand.NewSource(time.Now().UnixNano())).Uint64()
	}

	group := status.New().Group("cluster")

	b := bigmachine.Start(system)
	machines, err := b.Start(ctx, procs, params...)
	if err != nil {
		b.Shutdown()
		return nil, errors.E(errors.Unavailable, err, "cluster: failed to start worker machines")
	}
	for _, m := range machines {
		if err := m.Wait(ctx); err != nil {
			b.Shutdown()
			return nil, errors.E(errors.Unavailable, err, "cluster: worker machine failed to come up")
		}
		log.Printf("cluster: worker machine up at %s", m.Addr)
	}
	group.Printf("cluster: %d worker machines up, benchmarking", procs)

	procTimes := make([]int, procs)
	g, gctx := errgroup.WithContext(ctx)
	for i, m := range machines {
		i, m := i, m
		g.Go(func() error {
			task := group.Startf("benchmark %s", m.Addr)
			defer task.Done()
			millis, err := bench(gctx, m)
			if err != nil {
				task.Printf("benchmark failed: %v", err)
				return errors.E(errors.Unavailable, err, "cluster: benchmark failed on %s", m.Addr)
			}
			if millis < 1 {
				millis = 1
			}
			task.Printf("%dms", millis)
			procTimes[i] = millis
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		b.Shutdown()
		return nil, err
	}
	systemTime := 0
	for _, t := range procTimes {
		systemTime += t
	}
	group.Printf("cluster: benchmarked %d machines, system time %dms", procs, systemTime)

	return &Cluster{
		Context: Context{
			Procs:          procs,
			BlocksPerProc:  o.blocksPerProc,
			ThreadsPerProc: o.threadsPerProc,
			ProcTimes:      procTimes,
			SystemTime:     systemTime,
			Seed:           o.seed,
		},
		Status:   group,
		B:        b,
		Machines: machines,
	}, nil
}

// Close shuts down every worker machine and finalizes the bigmachine
// session. It is the collective destructor counterpart of Init.
func (c *Cluster) Close(ctx context.Context) error {
	c.B.Shutdown()
	return nil
}
