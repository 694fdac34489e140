package gaplog

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learncoach/backend/internal/storage/models"
)

type fakeStore struct {
	inserted []*models.GapRecord
	err      error
}

func (s *fakeStore) InsertGapRecord(gap *models.GapRecord) error {
	if s.err != nil {
		return s.err
	}
	s.inserted = append(s.inserted, gap)
	return nil
}

func TestRecordAssignsIdentityAndPersists(t *testing.T) {
	store := &fakeStore{}
	l := New(store)

	gap := l.Record(&models.GapRecord{
		Question:   "Explain monads",
		Subject:    "haskell",
		Confidence: 42,
	})

	require.NotNil(t, gap)
	assert.NotEmpty(t, gap.ID)
	assert.Equal(t, models.GapStatusPending, gap.Status)
	assert.False(t, gap.CreatedAt.IsZero())
	assert.Equal(t, gap.CreatedAt, gap.UpdatedAt)
	require.Len(t, store.inserted, 1)
	assert.Equal(t, gap, store.inserted[0])
}

func TestRecordAbsorbsStoreFailure(t *testing.T) {
	store := &fakeStore{err: errors.New("disk full")}
	l := New(store)

	gap := l.Record(&models.GapRecord{
		Question:   "Explain monads",
		Confidence: 42,
	})

	require.NotNil(t, gap, "a failed write must not fail the caller")
	assert.NotEmpty(t, gap.ID)
	assert.Equal(t, models.GapStatusPending, gap.Status)
}

func TestRecordUniqueIdentifiers(t *testing.T) {
	store := &fakeStore{}
	l := New(store)

	a := l.Record(&models.GapRecord{Question: "q1", Confidence: 10})
	b := l.Record(&models.GapRecord{Question: "q2", Confidence: 20})

	assert.NotEqual(t, a.ID, b.ID)
}
