package exec

import (
	"context"
	"testing"

	"github.com/ananyakumar/bigseq"
	"github.com/ananyakumar/bigseq/internal/partition"
	"github.com/grailbio/base/sync/ctxsync"
)

func init() {
	bigseq.RegisterGenerator("worker-test-identity", func(i int) int { return i })
	bigseq.RegisterCombiner("worker-test-sum", func(a, b int) int { return a + b })
	bigseq.RegisterMapper("worker-test-incr", func(x int) int { return x + 1 })
}

func newWorkerWithBlocks(t *testing.T, blocks []partition.Responsibility, gen string) (*Worker, int64) {
	t.Helper()
	w := &Worker{parts: make(map[int64]*seqPart), allocating: make(map[int64]bool)}
	w.cond = ctxsync.NewCond(&w.mu)
	id := nextSeqID()
	req := AllocRequest{SeqID: id, Blocks: blocks, Threads: 2, GeneratorName: gen}
	if err := w.Alloc(context.Background(), req, nil); err != nil {
		t.Fatal(err)
	}
	return w, id
}

func TestWorkerAllocTabulatesEachBlock(t *testing.T) {
	blocks := []partition.Responsibility{
		{ProcID: 0, StartIndex: 0, NumElements: 5},
		{ProcID: 0, StartIndex: 10, NumElements: 3},
	}
	w, id := newWorkerWithBlocks(t, blocks, "worker-test-identity")
	p, err := w.part(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := p.data[0], []interface{}{0, 1, 2, 3, 4}; !equalIfaces(got, want) {
		t.Fatalf("block 0 = %v, want %v", got, want)
	}
	if got, want := p.data[1], []interface{}{10, 11, 12}; !equalIfaces(got, want) {
		t.Fatalf("block 1 = %v, want %v", got, want)
	}
}

func TestWorkerGetSet(t *testing.T) {
	blocks := []partition.Responsibility{{ProcID: 0, StartIndex: 100, NumElements: 4}}
	w, id := newWorkerWithBlocks(t, blocks, "worker-test-identity")

	var reply GetReply
	if err := w.Get(context.Background(), GetRequest{SeqID: id, Index: 102}, &reply); err != nil {
		t.Fatal(err)
	}
	if reply.Value.(int) != 102 {
		t.Fatalf("get(102) = %v, want 102", reply.Value)
	}

	if err := w.Set(context.Background(), SetRequest{SeqID: id, Index: 102, Value: 999}, nil); err != nil {
		t.Fatal(err)
	}
	if err := w.Get(context.Background(), GetRequest{SeqID: id, Index: 102}, &reply); err != nil {
		t.Fatal(err)
	}
	if reply.Value.(int) != 999 {
		t.Fatalf("get(102) after set = %v, want 999", reply.Value)
	}
}

func TestWorkerGetOutOfLocalRangeFails(t *testing.T) {
	blocks := []partition.Responsibility{{ProcID: 0, StartIndex: 0, NumElements: 4}}
	w, id := newWorkerWithBlocks(t, blocks, "worker-test-identity")
	var reply GetReply
	if err := w.Get(context.Background(), GetRequest{SeqID: id, Index: 40}, &reply); err == nil {
		t.Fatal("expected an error for an index this worker does not own")
	}
}

func TestWorkerTransformAppliesInPlace(t *testing.T) {
	blocks := []partition.Responsibility{{ProcID: 0, StartIndex: 0, NumElements: 6}}
	w, id := newWorkerWithBlocks(t, blocks, "worker-test-identity")

	req := TransformRequest{SeqID: id, MapperName: "worker-test-incr"}
	if err := w.Transform(context.Background(), req, nil); err != nil {
		t.Fatal(err)
	}
	p, _ := w.part(context.Background(), id)
	want := []interface{}{1, 2, 3, 4, 5, 6}
	if !equalIfaces(p.data[0], want) {
		t.Fatalf("transformed block = %v, want %v", p.data[0], want)
	}
}

func TestWorkerReduceReturnsRawBlockTotals(t *testing.T) {
	blocks := []partition.Responsibility{
		{ProcID: 0, StartIndex: 0, NumElements: 4},  // 0+1+2+3 = 6
		{ProcID: 0, StartIndex: 10, NumElements: 2}, // 10+11 = 21
	}
	w, id := newWorkerWithBlocks(t, blocks, "worker-test-identity")

	var reply ReduceReply
	req := ReduceRequest{SeqID: id, CombinerName: "worker-test-sum"}
	if err := w.Reduce(context.Background(), req, &reply); err != nil {
		t.Fatal(err)
	}
	if len(reply.Partials) != 2 {
		t.Fatalf("got %d partials, want 2", len(reply.Partials))
	}
	if reply.Partials[0].(int) != 6 || reply.Partials[1].(int) != 21 {
		t.Fatalf("got %v, want [6 21]", reply.Partials)
	}
}

func TestWorkerApplyScanAppliesPerBlockPrefix(t *testing.T) {
	blocks := []partition.Responsibility{
		{ProcID: 0, StartIndex: 0, NumElements: 4},
		{ProcID: 0, StartIndex: 10, NumElements: 2},
	}
	w, id := newWorkerWithBlocks(t, blocks, "worker-test-identity")

	req := ApplyScanRequest{
		SeqID:        id,
		CombinerName: "worker-test-sum",
		Prefixes:     []interface{}{100, 200},
	}
	if err := w.ApplyScan(context.Background(), req, nil); err != nil {
		t.Fatal(err)
	}
	p, _ := w.part(context.Background(), id)
	want0 := []interface{}{100, 101, 103, 106}
	want1 := []interface{}{210, 221}
	if !equalIfaces(p.data[0], want0) {
		t.Fatalf("block 0 = %v, want %v", p.data[0], want0)
	}
	if !equalIfaces(p.data[1], want1) {
		t.Fatalf("block 1 = %v, want %v", p.data[1], want1)
	}
}

func TestWorkerSnapshotReturnsEverything(t *testing.T) {
	blocks := []partition.Responsibility{{ProcID: 0, StartIndex: 0, NumElements: 3}}
	w, id := newWorkerWithBlocks(t, blocks, "worker-test-identity")

	var reply SnapshotReply
	if err := w.Snapshot(context.Background(), id, &reply); err != nil {
		t.Fatal(err)
	}
	if len(reply.Data) != 1 || !equalIfaces(reply.Data[0], []interface{}{0, 1, 2}) {
		t.Fatalf("got %v", reply.Data)
	}
}

func TestWorkerFreeRemovesState(t *testing.T) {
	blocks := []partition.Responsibility{{ProcID: 0, StartIndex: 0, NumElements: 1}}
	w, id := newWorkerWithBlocks(t, blocks, "worker-test-identity")
	if err := w.Free(context.Background(), id, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := w.part(context.Background(), id); err == nil {
		t.Fatal("expected an error after Free")
	}
}

func equalIfaces(a, b []interface{}) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
