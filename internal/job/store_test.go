package job

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	berrors "git.home.luguber.info/inful/bookbinder/internal/errors"
	"git.home.luguber.info/inful/bookbinder/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testJob() *Job {
	return New("b1", "c1", model.Period{Year: 2024, Quarter: 3}, "ds-ref")
}

func TestCreateAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	j := testJob()
	require.NoError(t, s.Create(ctx, j))

	got, err := s.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, j.ID, got.ID)
	assert.Equal(t, StateQueued, got.State)
	assert.Equal(t, j.Fingerprint, got.Fingerprint)
	assert.Equal(t, "ds-ref", got.DatasetRef)
	assert.Nil(t, got.Error)

	_, err = s.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateRejectsNonQueued(t *testing.T) {
	s := newTestStore(t)
	j := testJob()
	j.State = StateRunning
	assert.Error(t, s.Create(context.Background(), j))
}

func TestClaimExactlyOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	j := testJob()
	require.NoError(t, s.Create(ctx, j))

	ok, err := s.Claim(ctx, j.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	// A second claim on the same job must lose.
	ok, err = s.Claim(ctx, j.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, StateRunning, got.State)
}

func TestClaimConcurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	j := testJob()
	require.NoError(t, s.Create(ctx, j))

	const claimers = 16
	var wins atomic.Int32
	var wg sync.WaitGroup
	for range claimers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.Claim(ctx, j.ID)
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load(), "exactly one claimer wins")
}

func TestMarkDone(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	j := testJob()
	require.NoError(t, s.Create(ctx, j))

	// done requires a prior claim.
	assert.Error(t, s.MarkDone(ctx, j.ID, "out-ref"))

	ok, err := s.Claim(ctx, j.ID)
	require.NoError(t, err)
	require.True(t, ok)

	// done requires an output reference.
	assert.Error(t, s.MarkDone(ctx, j.ID, ""))

	require.NoError(t, s.MarkDone(ctx, j.ID, "out-ref"))
	got, err := s.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, StateDone, got.State)
	assert.Equal(t, "out-ref", got.OutputRef)

	// Terminal: no further transitions.
	assert.Error(t, s.MarkDone(ctx, j.ID, "again"))
	assert.Error(t, s.MarkError(ctx, j.ID, ErrorDetail{Kind: berrors.KindInternal, Message: "x"}))
}

func TestMarkError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	j := testJob()
	require.NoError(t, s.Create(ctx, j))
	ok, err := s.Claim(ctx, j.ID)
	require.NoError(t, err)
	require.True(t, ok)

	detail := ErrorDetail{Kind: berrors.KindMissingTab, Message: `tab "DBL PROPOSAL" not found`}
	require.NoError(t, s.MarkError(ctx, j.ID, detail))

	got, err := s.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, StateError, got.State)
	require.NotNil(t, got.Error)
	assert.Equal(t, berrors.KindMissingTab, got.Error.Kind)
	assert.Equal(t, detail.Message, got.Error.Message)
	assert.Empty(t, got.OutputRef)
}

func TestFindDoneByFingerprint(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	j := testJob()
	require.NoError(t, s.Create(ctx, j))

	_, err := s.FindDoneByFingerprint(ctx, j.Fingerprint)
	assert.ErrorIs(t, err, ErrNotFound, "queued jobs do not count")

	ok, err := s.Claim(ctx, j.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, s.MarkDone(ctx, j.ID, "out-ref"))

	found, err := s.FindDoneByFingerprint(ctx, j.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, j.ID, found.ID)
	assert.Equal(t, "out-ref", found.OutputRef)

	// A different input combination never matches.
	other := New("b2", "c1", j.Period, j.DatasetRef)
	_, err = s.FindDoneByFingerprint(ctx, other.Fingerprint)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListByState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	j1 := testJob()
	j2 := New("b2", "c1", model.Period{Year: 2024, Quarter: 3}, "")
	require.NoError(t, s.Create(ctx, j1))
	require.NoError(t, s.Create(ctx, j2))

	ok, err := s.Claim(ctx, j2.ID)
	require.NoError(t, err)
	require.True(t, ok)

	queued, err := s.ListByState(ctx, StateQueued)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, j1.ID, queued[0].ID)

	running, err := s.ListByState(ctx, StateRunning)
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, j2.ID, running[0].ID)

	done, err := s.ListByState(ctx, StateDone)
	require.NoError(t, err)
	assert.Empty(t, done)
}
