package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"accountgate/internal/models"
	"accountgate/internal/services"
)

type SubscriptionStore interface {
	ActiveSubscription(ctx context.Context, userID string) (models.SubscriptionRecord, error)
}

// CustomerResolver 由 Resolver 实现
type CustomerResolver interface {
	Resolve(ctx context.Context, userID, emailHint string) (string, error)
}

type Aggregator struct {
	subs         SubscriptionStore
	resolver     CustomerResolver
	processor    Processor
	invoiceLimit int64
	callTimeout  time.Duration
	logger       *slog.Logger
}

func NewAggregator(subs SubscriptionStore, resolver CustomerResolver, processor Processor, invoiceLimit int64, callTimeout time.Duration, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		subs:         subs,
		resolver:     resolver,
		processor:    processor,
		invoiceLimit: invoiceLimit,
		callTimeout:  callTimeout,
		logger:       logger,
	}
}

// Summarize 当前套餐只看内部订阅表；发票和支付方式来自支付平台，
// 失败或超时只会让对应部分为空，不影响整体结果。
func (a *Aggregator) Summarize(ctx context.Context, userID, emailHint string) (models.BillingSummary, error) {
	summary := models.BillingSummary{
		Invoices:       []models.Invoice{},
		PaymentMethods: []models.PaymentMethod{},
	}

	rec, err := a.subs.ActiveSubscription(ctx, userID)
	switch {
	case errors.Is(err, services.ErrNotFound):
	case err != nil:
		return models.BillingSummary{}, fmt.Errorf("load current plan: %w", err)
	default:
		plan := models.PlanFromRecord(rec)
		summary.CurrentPlan = &plan
	}

	customerID, err := a.resolve(ctx, userID, emailHint)
	if err != nil {
		a.logger.WarnContext(ctx, "billing identity unavailable, external sections omitted",
			slog.String("upstream", "stripe"),
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return summary, nil
	}

	if invoices, err := a.invoices(ctx, customerID); err != nil {
		a.logger.WarnContext(ctx, "invoice history unavailable",
			slog.String("upstream", "stripe"),
			slog.String("customer_id", customerID),
			slog.String("error", err.Error()),
		)
	} else {
		summary.Invoices = invoices
	}

	if summary.CurrentPlan == nil {
		return summary, nil
	}
	if methods, err := a.paymentMethods(ctx, customerID); err != nil {
		a.logger.WarnContext(ctx, "payment methods unavailable",
			slog.String("upstream", "stripe"),
			slog.String("customer_id", customerID),
			slog.String("error", err.Error()),
		)
	} else {
		summary.PaymentMethods = methods
	}
	return summary, nil
}

func (a *Aggregator) resolve(ctx context.Context, userID, emailHint string) (string, error) {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	return a.resolver.Resolve(ctx, userID, emailHint)
}

func (a *Aggregator) invoices(ctx context.Context, customerID string) ([]models.Invoice, error) {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	invoices, err := a.processor.ListInvoices(ctx, customerID, a.invoiceLimit)
	if err != nil {
		return nil, err
	}
	if invoices == nil {
		return []models.Invoice{}, nil
	}
	sort.SliceStable(invoices, func(i, j int) bool {
		return invoices[i].CreatedAt.After(invoices[j].CreatedAt)
	})
	return invoices, nil
}

func (a *Aggregator) paymentMethods(ctx context.Context, customerID string) ([]models.PaymentMethod, error) {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	methods, err := a.processor.ListCardPaymentMethods(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if methods == nil {
		return []models.PaymentMethod{}, nil
	}
	return methods, nil
}

func (a *Aggregator) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, a.callTimeout)
}
