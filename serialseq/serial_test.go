package serialseq

import (
	"context"
	"math"
	"testing"

	"github.com/ananyakumar/bigseq"
)

func init() {
	bigseq.RegisterGenerator("serial-test-identity", func(i int) int { return i })
	bigseq.RegisterGenerator("serial-test-parens-balanced", func(i int) int {
		if i < 500 {
			return 1
		}
		return -1
	})
	bigseq.RegisterGenerator("serial-test-parens-unbalanced", func(i int) int {
		if i%2 == 0 {
			return -1
		}
		return 1
	})
	bigseq.RegisterGenerator("serial-test-zero", func(i int) int { return 0 })

	bigseq.RegisterCombiner("serial-test-sum", func(a, b int) int { return a + b })
	bigseq.RegisterCombiner("serial-test-min", func(a, b int) int {
		if a < b {
			return a
		}
		return b
	})

	bigseq.RegisterMapper("serial-test-square", func(x int) int { return x * x })
	bigseq.RegisterMapper("serial-test-double", func(x int) int { return 2 * x })
}

func TestIdentitySumReduceAndScan(t *testing.T) {
	ctx := context.Background()
	s, err := NewFromGenerator[int]("serial-test-identity", 100)
	if err != nil {
		t.Fatal(err)
	}

	sum, err := s.Reduce(ctx, "serial-test-sum", 0)
	if err != nil {
		t.Fatal(err)
	}
	if sum != 4950 {
		t.Fatalf("reduce = %d, want 4950", sum)
	}

	if err := s.Scan(ctx, "serial-test-sum", 0); err != nil {
		t.Fatal(err)
	}
	last, _ := s.Get(ctx, 99)
	if last != 4950 {
		t.Fatalf("get(99) after scan = %d, want 4950", last)
	}
	first, _ := s.Get(ctx, 0)
	if first != 0 {
		t.Fatalf("get(0) after scan = %d, want 0", first)
	}
}

func TestParensBalanced(t *testing.T) {
	ctx := context.Background()
	s, err := NewFromGenerator[int]("serial-test-parens-balanced", 1000)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Scan(ctx, "serial-test-sum", 0); err != nil {
		t.Fatal(err)
	}
	last, _ := s.Get(ctx, 999)
	if last != 0 {
		t.Fatalf("get(999) = %d, want 0", last)
	}
	min, err := s.Reduce(ctx, "serial-test-min", math.MaxInt32)
	if err != nil {
		t.Fatal(err)
	}
	if min != 0 {
		t.Fatalf("reduce(min) = %d, want 0", min)
	}
}

func TestParensUnbalanced(t *testing.T) {
	ctx := context.Background()
	s, err := NewFromGenerator[int]("serial-test-parens-unbalanced", 1000)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Scan(ctx, "serial-test-sum", 0); err != nil {
		t.Fatal(err)
	}
	first, _ := s.Get(ctx, 0)
	if first != -1 {
		t.Fatalf("get(0) = %d, want -1", first)
	}
	min, err := s.Reduce(ctx, "serial-test-min", math.MaxInt32)
	if err != nil {
		t.Fatal(err)
	}
	if min >= 0 {
		t.Fatalf("reduce(min) = %d, want < 0", min)
	}
}

func TestMapToNewType(t *testing.T) {
	ctx := context.Background()
	s, err := NewFromGenerator[int]("serial-test-identity", 8)
	if err != nil {
		t.Fatal(err)
	}
	doubled, err := Map[int, int](ctx, s, "serial-test-double")
	if err != nil {
		t.Fatal(err)
	}
	sum, err := doubled.Reduce(ctx, "serial-test-sum", 0)
	if err != nil {
		t.Fatal(err)
	}
	if sum != 56 {
		t.Fatalf("reduce(map(double)) = %d, want 56", sum)
	}
	orig, _ := s.Get(ctx, 3)
	if orig != 3 {
		t.Fatalf("map must not mutate the source: get(3) = %d, want 3", orig)
	}
}

func TestTransformThenScan(t *testing.T) {
	ctx := context.Background()
	s, err := NewFromGenerator[int]("serial-test-identity", 10)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Transform(ctx, "serial-test-square"); err != nil {
		t.Fatal(err)
	}
	if err := s.Scan(ctx, "serial-test-sum", 0); err != nil {
		t.Fatal(err)
	}
	last, _ := s.Get(ctx, 9)
	if last != 285 {
		t.Fatalf("get(9) = %d, want 285", last)
	}
}

func TestSetThenGet(t *testing.T) {
	ctx := context.Background()
	s, err := NewFromGenerator[int]("serial-test-zero", 50)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Set(ctx, 7, 42); err != nil {
		t.Fatal(err)
	}
	v7, _ := s.Get(ctx, 7)
	if v7 != 42 {
		t.Fatalf("get(7) = %d, want 42", v7)
	}
	v6, _ := s.Get(ctx, 6)
	if v6 != 0 {
		t.Fatalf("get(6) = %d, want 0", v6)
	}
}

func TestNewFromArray(t *testing.T) {
	array := []int{5, 4, 3, 2, 1}
	s := NewFromArray(array)
	if s.Length() != len(array) {
		t.Fatalf("Length() = %d, want %d", s.Length(), len(array))
	}
	array[0] = 999 // NewFromArray must copy, not alias.
	v, _ := s.Get(context.Background(), 0)
	if v != 5 {
		t.Fatalf("get(0) = %d, want 5 (NewFromArray must not alias its input)", v)
	}
}

func TestOutOfRangeIndices(t *testing.T) {
	ctx := context.Background()
	s := NewFromArray([]int{1, 2, 3})
	if _, err := s.Get(ctx, -1); err == nil {
		t.Fatal("expected an error for a negative index")
	}
	if _, err := s.Get(ctx, 3); err == nil {
		t.Fatal("expected an error for an out-of-range index")
	}
	if err := s.Set(ctx, 3, 0); err == nil {
		t.Fatal("expected an error for an out-of-range set")
	}
}
