// Command parenmatch runs the parenthesis-matching testable scenarios
// from spec.md §8 against all three sequence flavors this repository
// provides: a hand-written serial loop, serialseq.SerialSequence (the
// single-process reference), and exec.DistSequence (the distributed,
// bigmachine-backed implementation) -- mirroring
// original_source/src/paren_match.cpp's three-way PASS/FAIL/timing
// report exactly.
package main

import (
	"context"
	"flag"
	"math"
	"time"

	"github.com/ananyakumar/bigseq"
	"github.com/ananyakumar/bigseq/exec"
	"github.com/ananyakumar/bigseq/internal/cluster"
	"github.com/ananyakumar/bigseq/serialseq"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bigmachine"
	"github.com/grailbio/bigmachine/local"
)

var (
	n     = flag.Int("n", 1000, "sequence length")
	procs = flag.Int("procs", 4, "number of worker machines")
)

func init() {
	bigseq.RegisterCombiner("parenmatch-sum", func(a, b int) int { return a + b })
	bigseq.RegisterCombiner("parenmatch-min", func(a, b int) int {
		if a < b {
			return a
		}
		return b
	})
}

type scenario struct {
	name     string
	gen      func(n int) func(i int) int
	expected bool
}

func scenarios(n int) []scenario {
	return []scenario{
		{"alternating (matched)", func(n int) func(int) int {
			return func(i int) int {
				if i%2 == 0 {
					return 1
				}
				return -1
			}
		}, true},
		{"nested (matched)", func(n int) func(int) int {
			return func(i int) int {
				if i < n/2 {
					return 1
				}
				return -1
			}
		}, true},
		{"alternating from close (unmatched)", func(n int) func(int) int {
			return func(i int) int {
				if i%2 == 0 {
					return -1
				}
				return 1
			}
		}, false},
		{"closes then opens (unmatched)", func(n int) func(int) int {
			return func(i int) int {
				if i <= n/2 {
					return -1
				}
				return 1
			}
		}, false},
	}
}

func resultString(got, want bool) string {
	if got == want {
		return "PASS"
	}
	return "FAIL"
}

func fastSerialParenMatch(data []int) bool {
	cumSum := 0
	for _, v := range data {
		cumSum += v
		if cumSum < 0 {
			return false
		}
	}
	return cumSum == 0
}

func main() {
	flag.Parse()
	log.AddFlags()
	ctx := context.Background()

	c, err := cluster.Init(ctx, local.System{}, *procs, exec.WorkerParams(),
		func(ctx context.Context, m *bigmachine.Machine) (int, error) {
			var millis int
			err := m.Call(ctx, "Worker.Benchmark", struct{}{}, &millis)
			return millis, err
		})
	if err != nil {
		log.Fatal(err)
	}
	defer c.Close(ctx)

	for i, s := range scenarios(*n) {
		genFn := s.gen(*n)
		data := make([]int, *n)
		for j := range data {
			data[j] = genFn(j)
		}

		start := time.Now()
		rc := fastSerialParenMatch(data)
		log.Printf("[%s] test %d (fast serial, %s): %v", resultString(rc, s.expected), i, s.name, time.Since(start))

		serial := serialseq.NewFromArray(data)
		start = time.Now()
		rc = parenMatch(ctx, serial)
		log.Printf("[%s] test %d (sequential, %s): %v", resultString(rc, s.expected), i, s.name, time.Since(start))

		dist, err := exec.NewFromArray[int](ctx, c, data)
		if err != nil {
			log.Fatal(err)
		}
		start = time.Now()
		rc = parenMatch(ctx, dist)
		log.Printf("[%s] test %d (parallel, %s): %v", resultString(rc, s.expected), i, s.name, time.Since(start))
		dist.Close(ctx)
	}
}

// parenMatch mirrors paren_match.cpp's bool paren_match(Sequence<int>&)
// against any bigseq.Sequence[int].
func parenMatch(ctx context.Context, seq bigseq.Sequence[int]) bool {
	if err := seq.Scan(ctx, "parenmatch-sum", 0); err != nil {
		log.Fatal(err)
	}
	last, err := seq.Get(ctx, seq.Length()-1)
	if err != nil {
		log.Fatal(err)
	}
	min, err := seq.Reduce(ctx, "parenmatch-min", math.MaxInt32)
	if err != nil {
		log.Fatal(err)
	}
	return last == 0 && min >= 0
}
