package services

import (
	"context"
	"errors"
	"fmt"

	"accountgate/internal/models"

	"github.com/jackc/pgx/v5"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidRequest = errors.New("invalid request")
)

// DBTX pgxpool.Pool 与 pgxmock 都满足
type DBTX interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// Service 内部用户与订阅库，只读
type Service struct {
	db DBTX
}

func New(db DBTX) *Service {
	return &Service{db: db}
}

// userLookups 用户表历史上用过两个主键列，按顺序都要查
var userLookups = []string{
	`SELECT COALESCE(email, '') FROM users WHERE id::text = $1 LIMIT 1`,
	`SELECT COALESCE(email, '') FROM users WHERE user_id::text = $1 LIMIT 1`,
}

// UserEmail 按用户 ID 查邮箱，两列都查不到才返回 ErrNotFound
func (s *Service) UserEmail(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", ErrInvalidRequest
	}
	for _, query := range userLookups {
		var email string
		err := s.db.QueryRow(ctx, query, userID).Scan(&email)
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("lookup user email: %w", err)
		}
		if email != "" {
			return email, nil
		}
	}
	return "", ErrNotFound
}

// ActiveSubscription 取最近一条 active=true 的订阅
func (s *Service) ActiveSubscription(ctx context.Context, userID string) (models.SubscriptionRecord, error) {
	if userID == "" {
		return models.SubscriptionRecord{}, ErrInvalidRequest
	}
	var rec models.SubscriptionRecord
	err := s.db.QueryRow(ctx, `
		SELECT user_id::text, plan_name, plan_type, amount, active, start_date,
			COALESCE(minutes, 0), COALESCE(minutes_spent, 0), COALESCE(minutes_to_spend, 0)
		FROM subscriptions
		WHERE user_id::text = $1 AND active = true
		ORDER BY start_date DESC
		LIMIT 1`, userID,
	).Scan(&rec.UserID, &rec.PlanName, &rec.PlanType, &rec.Amount, &rec.Active, &rec.StartDate,
		&rec.MinutesTotal, &rec.MinutesSpent, &rec.MinutesToSpend)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.SubscriptionRecord{}, ErrNotFound
	}
	if err != nil {
		return models.SubscriptionRecord{}, fmt.Errorf("load active subscription: %w", err)
	}
	return rec, nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}
