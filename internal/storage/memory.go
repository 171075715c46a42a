package storage

import (
	"context"
	"sync"
	"time"

	"github.com/user/site-crawler/internal/domain"
)

// MemoryStore is the single-process stand-in for RedisStore when no Redis
// address is configured. Leases expire like their Redis counterparts.
type MemoryStore struct {
	mu       sync.Mutex
	leases   map[string]memoryLeaseEntry
	statuses map[string]domain.RunStatus
	seq      uint64
	now      func() time.Time
}

type memoryLeaseEntry struct {
	id        uint64
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		leases:   make(map[string]memoryLeaseEntry),
		statuses: make(map[string]domain.RunStatus),
		now:      time.Now,
	}
}

func (s *MemoryStore) Acquire(_ context.Context, target string, ttl time.Duration) (Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if cur, ok := s.leases[target]; ok && now.Before(cur.expiresAt) {
		return nil, ErrLeaseHeld
	}
	s.seq++
	s.leases[target] = memoryLeaseEntry{id: s.seq, expiresAt: now.Add(ttl)}
	return &memoryLease{store: s, target: target, id: s.seq}, nil
}

type memoryLease struct {
	store  *MemoryStore
	target string
	id     uint64
}

func (l *memoryLease) Extend(_ context.Context, ttl time.Duration) error {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()
	now := l.store.now()
	cur, ok := l.store.leases[l.target]
	if !ok || cur.id != l.id || !now.Before(cur.expiresAt) {
		return ErrLeaseLost
	}
	cur.expiresAt = now.Add(ttl)
	l.store.leases[l.target] = cur
	return nil
}

func (l *memoryLease) Release(context.Context) error {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()
	if cur, ok := l.store.leases[l.target]; ok && cur.id == l.id {
		delete(l.store.leases, l.target)
	}
	return nil
}

func (s *MemoryStore) SetRunStatus(_ context.Context, status domain.RunStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[status.Target] = status
	return nil
}

func (s *MemoryStore) GetRunStatus(_ context.Context, target string) (*domain.RunStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status, ok := s.statuses[target]
	if !ok {
		return nil, ErrNotFound
	}
	return &status, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }
