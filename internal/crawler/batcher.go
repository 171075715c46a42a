package crawler

import (
	"context"
	"fmt"
	"sync"

	"github.com/user/site-crawler/internal/domain"
)

// Sink persists page records. A nil return means the batch is durable.
type Sink interface {
	UpsertBatch(ctx context.Context, records []domain.PageRecord) error
}

// Batcher buffers records and hands them to the sink in groups of size.
type Batcher struct {
	mu      sync.Mutex
	sink    Sink
	size    int
	buf     []domain.PageRecord
	flushes int
	written int
	onFlush func(n int)
}

func NewBatcher(sink Sink, size int) *Batcher {
	if size <= 0 {
		size = 1
	}
	return &Batcher{
		sink: sink,
		size: size,
		buf:  make([]domain.PageRecord, 0, size),
	}
}

// Add buffers rec and flushes once the buffer reaches the batch size.
func (b *Batcher) Add(ctx context.Context, rec domain.PageRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf = append(b.buf, rec)
	if len(b.buf) < b.size {
		return nil
	}
	return b.flushLocked(ctx)
}

// Flush writes whatever is buffered. An empty buffer is a no-op.
func (b *Batcher) Flush(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flushLocked(ctx)
}

// flushLocked drops the buffer whether or not the sink succeeds; a failed
// batch is not retried.
func (b *Batcher) flushLocked(ctx context.Context) error {
	if len(b.buf) == 0 {
		return nil
	}
	batch := b.buf
	b.buf = make([]domain.PageRecord, 0, b.size)

	if err := b.sink.UpsertBatch(ctx, batch); err != nil {
		return fmt.Errorf("flush batch of %d: %w", len(batch), err)
	}
	b.flushes++
	b.written += len(batch)
	if b.onFlush != nil {
		b.onFlush(len(batch))
	}
	return nil
}

// Stats returns the number of successful flushes and records written.
func (b *Batcher) Stats() (flushes, written int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flushes, b.written
}
