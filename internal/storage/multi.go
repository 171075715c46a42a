package storage

import (
	"context"

	"github.com/user/site-crawler/internal/domain"
)

// BatchSink is the write side shared by every record destination.
type BatchSink interface {
	UpsertBatch(ctx context.Context, records []domain.PageRecord) error
}

// MultiSink writes each batch to its sinks in order and stops at the first
// failure. The primary store goes first.
type MultiSink []BatchSink

func (m MultiSink) UpsertBatch(ctx context.Context, records []domain.PageRecord) error {
	for _, s := range m {
		if err := s.UpsertBatch(ctx, records); err != nil {
			return err
		}
	}
	return nil
}
