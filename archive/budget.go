package archive

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
)

// errBudgetExhausted stops a read once the decompressed bytes of the whole
// conversion tree would exceed the total size budget.
var errBudgetExhausted = errors.New("exceeds total archive size budget")

// budget counts the decompressed bytes still allowed across one top-level
// archive and every archive nested in it.
type budget struct {
	remaining atomic.Int64
}

func newBudget(n int64) *budget {
	b := &budget{}
	b.remaining.Store(n)
	return b
}

// take reserves n bytes, reporting false without reserving anything when
// fewer remain.
func (b *budget) take(n int64) bool {
	for {
		cur := b.remaining.Load()
		if n > cur {
			return false
		}
		if b.remaining.CompareAndSwap(cur, cur-n) {
			return true
		}
	}
}

func (b *budget) release(n int64) {
	b.remaining.Add(n)
}

// budgetReader charges every byte it returns against b.
type budgetReader struct {
	r       io.Reader
	b       *budget
	charged int64
}

func (br *budgetReader) Read(p []byte) (int, error) {
	n, err := br.r.Read(p)
	if n > 0 {
		if !br.b.take(int64(n)) {
			return 0, errBudgetExhausted
		}
		br.charged += int64(n)
	}
	return n, err
}

type budgetKey struct{}

// budgetFrom returns the budget of the enclosing archive, if any. Nested
// archives reach it through the context the dispatcher passes down.
func budgetFrom(ctx context.Context) *budget {
	b, _ := ctx.Value(budgetKey{}).(*budget)
	return b
}

func withBudget(ctx context.Context, b *budget) context.Context {
	return context.WithValue(ctx, budgetKey{}, b)
}
