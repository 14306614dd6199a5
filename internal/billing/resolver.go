package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"accountgate/internal/services"
)

// UserStore 按用户 ID 查邮箱
type UserStore interface {
	UserEmail(ctx context.Context, userID string) (string, error)
}

// Resolver 用户 -> 支付平台客户，先查后建
type Resolver struct {
	users     UserStore
	processor Processor
	sourceTag string
	logger    *slog.Logger
}

func NewResolver(users UserStore, processor Processor, sourceTag string, logger *slog.Logger) *Resolver {
	return &Resolver{users: users, processor: processor, sourceTag: sourceTag, logger: logger}
}

// Resolve 返回客户 ID。emailHint 为空时从用户库查邮箱。
// 查找总是在创建之前，所以对同一邮箱重复调用不会产生重复客户。
func (r *Resolver) Resolve(ctx context.Context, userID, emailHint string) (string, error) {
	email, err := r.email(ctx, userID, emailHint)
	if err != nil {
		return "", err
	}

	existing, found, err := r.processor.FindCustomerByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	if found {
		return existing.CustomerID, nil
	}

	metadata := map[string]string{"source": r.sourceTag}
	if userID != "" {
		metadata["user_id"] = userID
	}
	created, err := r.processor.CreateCustomer(ctx, email, metadata, customerIdempotencyKey(email, r.sourceTag, userID))
	if err != nil {
		return "", err
	}
	r.logger.InfoContext(ctx, "billing customer created",
		slog.String("user_id", userID),
		slog.String("customer_id", created.CustomerID),
	)
	return created.CustomerID, nil
}

func (r *Resolver) email(ctx context.Context, userID, hint string) (string, error) {
	if email := normalizeEmail(hint); email != "" {
		return email, nil
	}
	if userID == "" {
		return "", ErrNoBillingIdentity
	}
	email, err := r.users.UserEmail(ctx, userID)
	if errors.Is(err, services.ErrNotFound) {
		return "", ErrNoBillingIdentity
	}
	if err != nil {
		return "", fmt.Errorf("lookup billing email: %w", err)
	}
	if email = normalizeEmail(email); email == "" {
		return "", ErrNoBillingIdentity
	}
	return email, nil
}

// normalizeEmail 只去掉首尾空白。支付平台按邮箱查客户区分大小写，改写大小写会查不到已有客户
func normalizeEmail(email string) string {
	return strings.TrimSpace(email)
}

// customerIdempotencyKey 覆盖创建请求的全部参数：同一个键必须对应同样的参数，
// 否则支付平台会拒绝重放
func customerIdempotencyKey(email, sourceTag, userID string) string {
	sum := sha256.Sum256([]byte(email + "\x00" + sourceTag + "\x00" + userID))
	return "customer-create-" + hex.EncodeToString(sum[:16])
}
