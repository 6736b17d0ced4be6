package scanstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAssignsIncrementingIDs(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first, err := store.Append(ctx, Row{BedName: "101-1", Status: StatusValid, IsValid: true, BPM: 72})
	require.NoError(t, err)
	second, err := store.Append(ctx, Row{BedName: "101-2", Status: StatusValid, IsValid: true, BPM: 80})
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, first.ID+1, second.ID)
}

func TestAppendRejectsInvalidStatus(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Append(context.Background(), Row{BedName: "101-1", Status: "bogus"})
	assert.Error(t, err)
}

func TestAppendNAWritesNARow(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	err := AppendNA(ctx, store, NAOptions{
		BedName: "101-1",
		Details: "robot could not move to bedside",
	})
	require.NoError(t, err)

	rows, err := store.ListByBed(ctx, "101-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, StatusNA, rows[0].Status)
	assert.False(t, rows[0].IsValid)
	assert.Equal(t, "robot could not move to bedside", rows[0].Details)
}

func TestGetUnknownIDReturnsNotFound(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Get(context.Background(), 999)
	assert.ErrorIs(t, err, ErrNotFound)
}
