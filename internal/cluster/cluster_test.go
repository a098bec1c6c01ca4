package cluster

import (
	"context"
	"testing"

	"github.com/grailbio/bigmachine"
	"github.com/grailbio/bigmachine/testsystem"
)

// benchService is a minimal RPC service standing in for exec.Worker's
// Benchmark method, so this package's tests do not need to import exec
// (which itself depends on cluster).
type benchService struct{}

func (benchService) Benchmark(ctx context.Context, _ struct{}, reply *int) error {
	*reply = 5
	return nil
}

func countingBenchmark(ctx context.Context, m *bigmachine.Machine) (int, error) {
	var reply int
	if err := m.Call(ctx, "benchService.Benchmark", struct{}{}, &reply); err != nil {
		return 0, err
	}
	return reply, nil
}

func TestInitGathersProcTimes(t *testing.T) {
	system := testsystem.New()
	system.Machineprocs = 1

	ctx := context.Background()
	c, err := Init(ctx, system, 3, []bigmachine.Param{bigmachine.Services{"benchService": benchService{}}}, countingBenchmark, WithSeed(7))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close(ctx)

	if c.Procs != 3 {
		t.Fatalf("got %d procs, want 3", c.Procs)
	}
	if len(c.ProcTimes) != 3 {
		t.Fatalf("got %d proc times, want 3", len(c.ProcTimes))
	}
	for i, pt := range c.ProcTimes {
		if pt != 5 {
			t.Fatalf("proc %d time = %d, want 5", i, pt)
		}
	}
	if c.SystemTime != 15 {
		t.Fatalf("got system time %d, want 15", c.SystemTime)
	}
	if c.BlocksPerProc != 5 || c.ThreadsPerProc != 2 {
		t.Fatalf("unexpected defaults: %+v", c.Context)
	}
	if c.Seed != 7 {
		t.Fatalf("got seed %d, want 7 (WithSeed must be honored)", c.Seed)
	}
}

func TestInitRejectsZeroProcs(t *testing.T) {
	_, err := Init(context.Background(), testsystem.New(), 0, nil, countingBenchmark)
	if err == nil {
		t.Fatal("expected an error for procs == 0")
	}
}

func TestInitClampsZeroBenchmarkToOne(t *testing.T) {
	system := testsystem.New()
	system.Machineprocs = 1
	zero := func(ctx context.Context, m *bigmachine.Machine) (int, error) { return 0, nil }

	ctx := context.Background()
	c, err := Init(ctx, system, 1, []bigmachine.Param{bigmachine.Services{"benchService": benchService{}}}, zero)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close(ctx)
	if c.ProcTimes[0] != 1 {
		t.Fatalf("got %d, want clamped to 1", c.ProcTimes[0])
	}
}
