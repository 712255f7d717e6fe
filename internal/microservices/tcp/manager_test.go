package tcp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockSessionRepo mocks SessionRepository
type MockSessionRepo struct {
	mock.Mock
}

func (m *MockSessionRepo) SaveSession(ctx context.Context, rec *SessionRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *MockSessionRepo) RecentSessions(ctx context.Context, limit int) ([]*SessionRecord, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*SessionRecord), args.Error(1)
}

func (m *MockSessionRepo) Close() error {
	args := m.Called()
	return args.Error(0)
}

func TestMemorySessionRepo_NewestFirstAndCapped(t *testing.T) {
	repo := NewMemorySessionRepo(3)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		require.NoError(t, repo.SaveSession(ctx, &SessionRecord{ID: fmt.Sprintf("s%d", i)}))
	}

	recs, err := repo.RecentSessions(ctx, 0)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "s5", recs[0].ID)
	assert.Equal(t, "s4", recs[1].ID)
	assert.Equal(t, "s3", recs[2].ID)

	recs, err = repo.RecentSessions(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "s5", recs[0].ID)
}

func TestMemorySessionRepo_Empty(t *testing.T) {
	recs, err := NewMemorySessionRepo(0).RecentSessions(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestMemorySessionRepo_StoresCopies(t *testing.T) {
	repo := NewMemorySessionRepo(2)
	rec := &SessionRecord{ID: "a", BytesEchoed: 1}
	require.NoError(t, repo.SaveSession(context.Background(), rec))
	rec.BytesEchoed = 99

	recs, _ := repo.RecentSessions(context.Background(), 1)
	assert.Equal(t, int64(1), recs[0].BytesEchoed)
}

func TestSessionManager_Lifecycle(t *testing.T) {
	m := NewSessionManager(nil)

	rec := m.Begin(SocketInfo{SessionID: "s1", Remote: "127.0.0.1:4000"})
	active, ok := m.Active()
	require.True(t, ok)
	assert.Equal(t, "s1", active.ID)

	m.Echoed(rec, 16)
	m.Echoed(rec, 12)
	m.Finish(rec, nil)

	_, ok = m.Active()
	assert.False(t, ok)
	assert.Equal(t, Totals{Sessions: 1, BytesEchoed: 28}, m.Totals())

	recent, err := m.Recent(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, OutcomePeerClosed, recent[0].Outcome)
	assert.Equal(t, 2, recent[0].Chunks)
	assert.GreaterOrEqual(t, recent[0].Duration().Nanoseconds(), int64(0))
}

func TestSessionManager_Outcomes(t *testing.T) {
	m := NewSessionManager(nil)

	timeoutErr := &TransmissionError{Op: "receive", Err: fmt.Errorf("%w: read", ErrTimeout)}
	m.Finish(m.Begin(SocketInfo{SessionID: "t"}), timeoutErr)
	m.Finish(m.Begin(SocketInfo{SessionID: "e"}), errors.New("connection reset by peer"))

	recent, err := m.Recent(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, OutcomeError, recent[0].Outcome)
	assert.Equal(t, "connection reset by peer", recent[0].Error)
	assert.Equal(t, OutcomeTimeout, recent[1].Outcome)
	assert.Equal(t, int64(2), m.Totals().Failed)
}

func TestSessionManager_SaveFailureIsSwallowed(t *testing.T) {
	repo := new(MockSessionRepo)
	repo.On("SaveSession", mock.Anything, mock.AnythingOfType("*tcp.SessionRecord")).Return(errors.New("redis down"))
	repo.On("Close").Return(nil)

	m := NewSessionManager(repo)
	m.Finish(m.Begin(SocketInfo{SessionID: "s1"}), nil)

	assert.Equal(t, int64(1), m.Totals().Sessions)
	assert.NoError(t, m.Close())
	repo.AssertExpectations(t)
}

// run with -race: a status read may land while the session is being finished
func TestSessionManager_ActiveDuringFinish(t *testing.T) {
	m := NewSessionManager(nil)

	for i := 0; i < 200; i++ {
		rec := m.Begin(SocketInfo{SessionID: fmt.Sprintf("s%d", i)})
		m.Echoed(rec, 4)

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				if active, ok := m.Active(); ok && !active.EndedAt.IsZero() {
					assert.NotEmpty(t, active.Outcome)
				}
			}
		}()
		m.Finish(rec, nil)
		wg.Wait()
	}

	_, ok := m.Active()
	assert.False(t, ok)
	assert.Equal(t, int64(200), m.Totals().Sessions)
}
