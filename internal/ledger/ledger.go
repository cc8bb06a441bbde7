// Package ledger tracks how many tutoring questions an identity has asked
// today and enforces the per-plan daily quota. Records roll over lazily: a
// record whose date is not today counts as zero, no background job resets it.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"studypal_go_backend/internal/plans"
)

// Sentinel errors.
var (
	// ErrLimitExceeded means the identity has no remaining questions today.
	ErrLimitExceeded = errors.New("ledger: daily question limit exceeded")
	// ErrStorageUnavailable means a write to the backing store failed for a
	// reason unrelated to quota.
	ErrStorageUnavailable = errors.New("ledger: usage storage unavailable")
)

// Identity is the owner of a usage record: either a signed-in user or an
// anonymous device.
type Identity struct {
	UserID   uuid.UUID
	DeviceID string
}

// Anonymous reports whether the identity has no server-side user account.
func (i Identity) Anonymous() bool {
	return i.UserID == uuid.Nil
}

// Key returns a stable storage key for the identity.
func (i Identity) Key() string {
	if i.Anonymous() {
		return "device:" + i.DeviceID
	}
	return "user:" + i.UserID.String()
}

// Usage is a point-in-time snapshot of an identity's daily consumption.
type Usage struct {
	QuestionsAsked int    `json:"questions_asked"`
	Limit          int    `json:"limit"`
	Remaining      int    `json:"remaining"`
	Date           string `json:"date"`
}

// Store answers "can this identity ask one more question today?" and records
// accepted questions.
//
// GetUsage fails open: read failures yield a synthetic zero-usage record so a
// storage hiccup never locks a paying user out. RecordQuestion fails closed:
// it returns ErrLimitExceeded when the quota is spent and
// ErrStorageUnavailable when the write cannot be guaranteed. Implementations
// must make the increment atomic with the limit check so two concurrent
// submissions cannot both slip past the quota.
type Store interface {
	GetUsage(ctx context.Context, id Identity, plan plans.Plan) (Usage, error)
	RecordQuestion(ctx context.Context, id Identity, plan plans.Plan) (Usage, error)
}

// CanAsk reports whether the identity has quota left today. A read failure
// counts as "yes" (fail-open); RecordQuestion still re-validates.
func CanAsk(ctx context.Context, s Store, id Identity, plan plans.Plan) bool {
	u, err := s.GetUsage(ctx, id, plan)
	if err != nil {
		return true
	}
	return u.Remaining > 0
}

// Option configures a store at construction time.
type Option func(now *func() time.Time)

// WithClock overrides the store's notion of "now". Tests use it to drive day
// rollover without sleeping.
func WithClock(now func() time.Time) Option {
	return func(dst *func() time.Time) { *dst = now }
}

// DateKey formats t as the ledger's calendar-day key, in t's location.
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}

func usageFor(count int, plan plans.Plan, date string) Usage {
	limit := plans.QuotaFor(plan)
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Usage{
		QuestionsAsked: count,
		Limit:          limit,
		Remaining:      remaining,
		Date:           date,
	}
}

// Split routes authenticated identities to one backend and anonymous devices
// to another, so the postgres row store and the per-device store can coexist
// behind a single Store.
type Split struct {
	Users   Store
	Devices Store
}

func NewSplit(users, devices Store) *Split {
	return &Split{Users: users, Devices: devices}
}

func (s *Split) backend(id Identity) Store {
	if id.Anonymous() {
		return s.Devices
	}
	return s.Users
}

func (s *Split) GetUsage(ctx context.Context, id Identity, plan plans.Plan) (Usage, error) {
	return s.backend(id).GetUsage(ctx, id, plan)
}

func (s *Split) RecordQuestion(ctx context.Context, id Identity, plan plans.Plan) (Usage, error) {
	return s.backend(id).RecordQuestion(ctx, id, plan)
}
