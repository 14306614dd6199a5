package billing

import (
	"context"
	"errors"

	"accountgate/internal/models"
)

var (
	// ErrNoBillingIdentity 拿不到邮箱，无法对应到支付平台客户
	ErrNoBillingIdentity    = errors.New("no billing identity available")
	ErrProcessorUnavailable = errors.New("billing processor unavailable")
	ErrNotConfigured        = errors.New("billing processor not configured")
)

// Processor 外部支付平台的最小接口
type Processor interface {
	// FindCustomerByEmail 最多匹配一个客户，找不到时 found 为 false
	FindCustomerByEmail(ctx context.Context, email string) (customer models.ExternalCustomer, found bool, err error)
	CreateCustomer(ctx context.Context, email string, metadata map[string]string, idempotencyKey string) (models.ExternalCustomer, error)
	ListInvoices(ctx context.Context, customerID string, limit int64) ([]models.Invoice, error)
	ListCardPaymentMethods(ctx context.Context, customerID string) ([]models.PaymentMethod, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
}

// DisabledProcessor 未配置支付平台密钥时使用，所有调用返回 ErrNotConfigured
type DisabledProcessor struct{}

func (DisabledProcessor) FindCustomerByEmail(context.Context, string) (models.ExternalCustomer, bool, error) {
	return models.ExternalCustomer{}, false, ErrNotConfigured
}

func (DisabledProcessor) CreateCustomer(context.Context, string, map[string]string, string) (models.ExternalCustomer, error) {
	return models.ExternalCustomer{}, ErrNotConfigured
}

func (DisabledProcessor) ListInvoices(context.Context, string, int64) ([]models.Invoice, error) {
	return nil, ErrNotConfigured
}

func (DisabledProcessor) ListCardPaymentMethods(context.Context, string) ([]models.PaymentMethod, error) {
	return nil, ErrNotConfigured
}

func (DisabledProcessor) CreatePortalSession(context.Context, string, string) (string, error) {
	return "", ErrNotConfigured
}
