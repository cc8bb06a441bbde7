package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studypal_go_backend/internal/ledger"
	"studypal_go_backend/internal/plans"
)

func anonID() ledger.Identity {
	return ledger.Identity{DeviceID: uuid.New().String()}
}

func TestRecordQuestion_CountsUpToLimit(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	id := anonID()

	for i := 1; i <= 5; i++ {
		u, err := store.RecordQuestion(ctx, id, plans.Free)
		require.NoError(t, err)
		assert.Equal(t, i, u.QuestionsAsked)
		assert.Equal(t, 5, u.Limit)
		assert.Equal(t, 5-i, u.Remaining)
	}

	// Sixth question of the day must fail without incrementing.
	u, err := store.RecordQuestion(ctx, id, plans.Free)
	assert.ErrorIs(t, err, ledger.ErrLimitExceeded)
	assert.Equal(t, 5, u.QuestionsAsked)

	u, err = store.GetUsage(ctx, id, plans.Free)
	require.NoError(t, err)
	assert.Equal(t, 5, u.QuestionsAsked)
	assert.Equal(t, 0, u.Remaining)
}

func TestRecordQuestion_PlanLimits(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()

	u, err := store.RecordQuestion(ctx, anonID(), plans.Gold)
	require.NoError(t, err)
	assert.Equal(t, 150, u.Limit)

	u, err = store.RecordQuestion(ctx, anonID(), plans.Diamond)
	require.NoError(t, err)
	assert.Equal(t, 500, u.Limit)
}

func TestGetUsage_DayRollover(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 9, 23, 50, 0, 0, time.Local)
	store := ledger.NewMemoryStore(ledger.WithClock(func() time.Time { return now }))
	id := anonID()

	for i := 0; i < 3; i++ {
		_, err := store.RecordQuestion(ctx, id, plans.Free)
		require.NoError(t, err)
	}
	u, err := store.GetUsage(ctx, id, plans.Free)
	require.NoError(t, err)
	assert.Equal(t, 3, u.QuestionsAsked)
	assert.Equal(t, "2025-03-09", u.Date)

	// Midnight passes; the counter resets lazily on the next read.
	now = now.Add(20 * time.Minute)
	u, err = store.GetUsage(ctx, id, plans.Free)
	require.NoError(t, err)
	assert.Equal(t, 0, u.QuestionsAsked)
	assert.Equal(t, 5, u.Remaining)
	assert.Equal(t, "2025-03-10", u.Date)
}

func TestRecordQuestion_RolloverRestoresQuota(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 9, 12, 0, 0, 0, time.Local)
	store := ledger.NewMemoryStore(ledger.WithClock(func() time.Time { return now }))
	id := anonID()

	for i := 0; i < 5; i++ {
		_, err := store.RecordQuestion(ctx, id, plans.Free)
		require.NoError(t, err)
	}
	_, err := store.RecordQuestion(ctx, id, plans.Free)
	assert.ErrorIs(t, err, ledger.ErrLimitExceeded)

	now = now.Add(24 * time.Hour)
	u, err := store.RecordQuestion(ctx, id, plans.Free)
	require.NoError(t, err)
	assert.Equal(t, 1, u.QuestionsAsked)
}

func TestCanAsk(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	id := anonID()

	// Free plan, 4 of 5 used: one question left.
	for i := 0; i < 4; i++ {
		_, err := store.RecordQuestion(ctx, id, plans.Free)
		require.NoError(t, err)
	}
	assert.True(t, ledger.CanAsk(ctx, store, id, plans.Free))

	_, err := store.RecordQuestion(ctx, id, plans.Free)
	require.NoError(t, err)
	assert.False(t, ledger.CanAsk(ctx, store, id, plans.Free))
}

func TestSplit_RoutesByIdentity(t *testing.T) {
	ctx := context.Background()
	users := ledger.NewMemoryStore()
	devices := ledger.NewMemoryStore()
	split := ledger.NewSplit(users, devices)

	authed := ledger.Identity{UserID: uuid.New()}
	anon := anonID()

	_, err := split.RecordQuestion(ctx, authed, plans.Gold)
	require.NoError(t, err)
	_, err = split.RecordQuestion(ctx, anon, plans.Free)
	require.NoError(t, err)

	u, err := users.GetUsage(ctx, authed, plans.Gold)
	require.NoError(t, err)
	assert.Equal(t, 1, u.QuestionsAsked)

	u, err = devices.GetUsage(ctx, anon, plans.Free)
	require.NoError(t, err)
	assert.Equal(t, 1, u.QuestionsAsked)

	// Neither backend sees the other's identity.
	u, err = devices.GetUsage(ctx, authed, plans.Gold)
	require.NoError(t, err)
	assert.Equal(t, 0, u.QuestionsAsked)
}

func TestIdentityKey(t *testing.T) {
	userID := uuid.New()
	assert.Equal(t, "user:"+userID.String(), ledger.Identity{UserID: userID}.Key())
	assert.Equal(t, "device:abc", ledger.Identity{DeviceID: "abc"}.Key())
	assert.True(t, ledger.Identity{DeviceID: "abc"}.Anonymous())
	assert.False(t, ledger.Identity{UserID: userID}.Anonymous())
}
