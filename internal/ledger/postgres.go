package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"studypal_go_backend/internal/models"
	"studypal_go_backend/internal/plans"
)

// PostgresStore keeps one usage_records row per (user, day) for signed-in
// users.
type PostgresStore struct {
	db  *gorm.DB
	log zerolog.Logger
	now func() time.Time
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(db *gorm.DB, log zerolog.Logger, opts ...Option) *PostgresStore {
	s := &PostgresStore{
		db:  db,
		log: log,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(&s.now)
	}
	return s
}

func (s *PostgresStore) GetUsage(ctx context.Context, id Identity, plan plans.Plan) (Usage, error) {
	date := DateKey(s.now())

	var rec models.UsageRecord
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND usage_date = ?", id.UserID, date).
		First(&rec).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			// Fail open: a read failure must not lock the user out.
			s.log.Warn().Err(err).Str("user_id", id.UserID.String()).
				Msg("usage read failed, treating as zero usage")
		}
		return usageFor(0, plan, date), nil
	}

	return usageFor(rec.QuestionsAsked, plan, date), nil
}

// RecordQuestion consumes one question atomically. The insert and the
// limit-guarded increment are a single statement, so two racing submissions
// cannot both pass the quota check.
func (s *PostgresStore) RecordQuestion(ctx context.Context, id Identity, plan plans.Plan) (Usage, error) {
	now := s.now()
	date := DateKey(now)
	limit := plans.QuotaFor(plan)

	rec := models.UsageRecord{
		UserID:         id.UserID,
		UsageDate:      date,
		QuestionsAsked: 1,
		PlanType:       string(plan),
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "usage_date"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"questions_asked": gorm.Expr("usage_records.questions_asked + 1"),
			"plan_type":       string(plan),
			"updated_at":      now,
		}),
		Where: clause.Where{Exprs: []clause.Expression{
			gorm.Expr("usage_records.questions_asked < ?", limit),
		}},
	}).Create(&rec)

	if res.Error != nil {
		s.log.Error().Err(res.Error).Str("user_id", id.UserID.String()).
			Msg("failed to record question")
		return Usage{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, res.Error)
	}
	if res.RowsAffected == 0 {
		return usageFor(limit, plan, date), ErrLimitExceeded
	}

	// The upsert does not report the post-increment count, so re-read it.
	var current models.UsageRecord
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND usage_date = ?", id.UserID, date).
		First(&current).Error; err != nil {
		return Usage{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	return usageFor(current.QuestionsAsked, plan, date), nil
}
