package tcp

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestPostgres(t *testing.T) *SessionPostgresRepo {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping postgres tests")
	}
	repo, err := NewSessionPostgresRepo(dsn)
	require.NoError(t, err)
	require.NoError(t, repo.db.Exec("DELETE FROM echo_sessions").Error)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestSessionPostgresRepo_BatchInsertIgnoresDuplicates(t *testing.T) {
	repo := openTestPostgres(t)
	ctx := context.Background()
	base := time.Now().UTC()

	recs := []*SessionRecord{
		{ID: "11111111-1111-1111-1111-111111111111", StartedAt: base, Outcome: OutcomePeerClosed},
		{ID: "22222222-2222-2222-2222-222222222222", StartedAt: base.Add(time.Second), Outcome: OutcomeTimeout},
	}
	require.NoError(t, repo.BatchInsert(ctx, recs))
	require.NoError(t, repo.BatchInsert(ctx, recs[:1]))

	got, err := repo.RecentSessions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, recs[1].ID, got[0].ID)
	assert.Equal(t, OutcomeTimeout, got[0].Outcome)
}

func TestSessionPostgresRepo_SaveUpserts(t *testing.T) {
	repo := openTestPostgres(t)
	ctx := context.Background()

	rec := &SessionRecord{ID: "33333333-3333-3333-3333-333333333333", StartedAt: time.Now().UTC()}
	require.NoError(t, repo.SaveSession(ctx, rec))
	rec.BytesEchoed = 44
	require.NoError(t, repo.SaveSession(ctx, rec))

	got, err := repo.RecentSessions(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(44), got[0].BytesEchoed)
}

func TestSessionRow_RoundTrip(t *testing.T) {
	rec := &SessionRecord{ID: "x", Remote: "r", BytesEchoed: 3, Chunks: 1, Outcome: OutcomeError, Error: "boom"}
	assert.Equal(t, rec, toRow(rec).record())
}
