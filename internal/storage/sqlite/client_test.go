package sqlite

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learncoach/backend/internal/storage/models"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()

	client, err := NewClient(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	require.NoError(t, client.InitSchema())
	return client
}

func newGap(id string, confidence int, createdAt time.Time) *models.GapRecord {
	return &models.GapRecord{
		ID:         id,
		Question:   "What is question " + id + "?",
		Subject:    "go-basics",
		Confidence: confidence,
		Status:     models.GapStatusPending,
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
	}
}

func TestGapRecordRoundTrip(t *testing.T) {
	client := newTestClient(t)

	now := time.Now()
	require.NoError(t, client.InsertGapRecord(newGap("gap-old", 40, now.Add(-time.Minute))))
	require.NoError(t, client.InsertGapRecord(newGap("gap-new", 55, now)))

	gaps, err := client.ListGapRecords("", 10, 0)
	require.NoError(t, err)
	require.Len(t, gaps, 2)

	assert.Equal(t, "gap-new", gaps[0].ID, "newest first")
	assert.Equal(t, "gap-old", gaps[1].ID)
	assert.Equal(t, 55, gaps[0].Confidence)
	assert.Equal(t, "go-basics", gaps[0].Subject)
	assert.Equal(t, models.GapStatusPending, gaps[0].Status)
	assert.Nil(t, gaps[0].ResolvedAt)
}

func TestListGapRecordsStatusFilter(t *testing.T) {
	client := newTestClient(t)

	now := time.Now()
	require.NoError(t, client.InsertGapRecord(newGap("gap-1", 40, now.Add(-time.Minute))))
	require.NoError(t, client.InsertGapRecord(newGap("gap-2", 50, now)))
	require.NoError(t, client.UpdateGapStatus("gap-1", models.GapStatusResolved, "added lecture notes", ""))

	pending, err := client.ListGapRecords(models.GapStatusPending, 10, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "gap-2", pending[0].ID)

	resolved, err := client.ListGapRecords(models.GapStatusResolved, 10, 0)
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	assert.Equal(t, "gap-1", resolved[0].ID)
	assert.Equal(t, "added lecture notes", resolved[0].Resolution)
	require.NotNil(t, resolved[0].ResolvedAt)
}

func TestListGapRecordsPagination(t *testing.T) {
	client := newTestClient(t)

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		gap := newGap(string(rune('a'+i)), 30, base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, client.InsertGapRecord(gap))
	}

	page, err := client.ListGapRecords("", 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "c", page[0].ID)
	assert.Equal(t, "b", page[1].ID)
}

func TestUpdateGapStatusUnknownID(t *testing.T) {
	client := newTestClient(t)

	err := client.UpdateGapStatus("missing", models.GapStatusDismissed, "", "")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestAnswerHistoryRoundTrip(t *testing.T) {
	client := newTestClient(t)

	record := &models.AnswerRecord{
		ID:            "ans-1",
		UserID:        "user-1",
		Question:      "What is a slice?",
		Subject:       "go-basics",
		Explanation:   "A slice is a view over an array.",
		Example:       "s := []int{1, 2, 3}",
		Relevance:     "Slices are the workhorse collection type.",
		NextStep:      "Learn about append semantics.",
		Confidence:    82,
		UsedRetrieval: true,
		GapLogged:     false,
		LatencyMS:     1200,
		CreatedAt:     time.Now(),
	}
	require.NoError(t, client.InsertAnswerRecord(record))
	require.NoError(t, client.InsertAnswerSource(&models.AnswerSource{
		AnswerID: "ans-1", Source: "slices.pdf", Position: 0,
	}))

	history, err := client.GetAnswerHistory("user-1", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)

	got := history[0]
	assert.Equal(t, "ans-1", got.ID)
	assert.Equal(t, "What is a slice?", got.Question)
	assert.Equal(t, 82, got.Confidence)
	assert.True(t, got.UsedRetrieval)
	assert.False(t, got.GapLogged)
	assert.Equal(t, 1200, got.LatencyMS)
}

func TestAnswerHistoryScopedToUser(t *testing.T) {
	client := newTestClient(t)

	for _, userID := range []string{"user-1", "user-2"} {
		require.NoError(t, client.InsertAnswerRecord(&models.AnswerRecord{
			ID:        "ans-" + userID,
			UserID:    userID,
			Question:  "q",
			CreatedAt: time.Now(),
		}))
	}

	history, err := client.GetAnswerHistory("user-1", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "ans-user-1", history[0].ID)
}
