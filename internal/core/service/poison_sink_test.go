package service

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/order-pipeline/internal/core/domain"
)

type sliceArchive struct {
	mu      sync.Mutex
	entries []domain.PoisonEntry
}

func (a *sliceArchive) Archive(_ context.Context, e domain.PoisonEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append([]domain.PoisonEntry{e}, a.entries...)
	return nil
}

func (a *sliceArchive) Recent(_ context.Context, limit int) ([]domain.PoisonEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.entries) < limit {
		limit = len(a.entries)
	}
	return a.entries[:limit], nil
}

func TestPoisonSink_ArchivesEntry(t *testing.T) {
	archive := &sliceArchive{}
	sink := NewPoisonSink(archive, zerolog.Nop())

	require.NoError(t, sink.Handle(context.Background(), "order-notifications", "materializer-1", "db down", []byte(`{"Type":"OrderCreated"}`)))

	entries, err := sink.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "order-notifications", entries[0].Topic)
	assert.Equal(t, "materializer-1", entries[0].Handler)
	assert.Equal(t, "db down", entries[0].Reason)
	assert.Equal(t, `{"Type":"OrderCreated"}`, entries[0].Payload)
	assert.False(t, entries[0].At.IsZero())
}

func TestPoisonSink_WithoutArchive(t *testing.T) {
	sink := NewPoisonSink(nil, zerolog.Nop())

	assert.NoError(t, sink.Handle(context.Background(), "t", "h", "r", nil))
	entries, err := sink.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
