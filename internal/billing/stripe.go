package billing

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"accountgate/internal/metrics"
	"accountgate/internal/models"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

// StripeProcessor 基于 stripe-go 的 Processor 实现
type StripeProcessor struct {
	api *client.API
}

type StripeOptions struct {
	SecretKey string
	// BackendURL 非空时替换默认 API 地址，测试时指向 httptest
	BackendURL string
	Timeout    time.Duration
}

func NewStripeProcessor(opts StripeOptions) *StripeProcessor {
	cfg := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: opts.Timeout},
		MaxNetworkRetries: stripe.Int64(1),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
	}
	if opts.BackendURL != "" {
		cfg.URL = stripe.String(opts.BackendURL)
		cfg.MaxNetworkRetries = stripe.Int64(0)
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, cfg)
	api := client.New(opts.SecretKey, &stripe.Backends{
		API:     backend,
		Connect: backend,
		Uploads: backend,
	})
	return &StripeProcessor{api: api}
}

func (p *StripeProcessor) FindCustomerByEmail(ctx context.Context, email string) (models.ExternalCustomer, bool, error) {
	params := &stripe.CustomerListParams{Email: stripe.String(email)}
	params.Context = ctx
	params.Limit = stripe.Int64(1)
	params.Single = true

	it := p.api.Customers.List(params)
	for it.Next() {
		c := it.Customer()
		observe("find_customer", nil)
		return models.ExternalCustomer{CustomerID: c.ID, Email: c.Email}, true, nil
	}
	if err := it.Err(); err != nil {
		observe("find_customer", err)
		return models.ExternalCustomer{}, false, fmt.Errorf("%w: list customers: %v", ErrProcessorUnavailable, err)
	}
	observe("find_customer", nil)
	return models.ExternalCustomer{}, false, nil
}

func (p *StripeProcessor) CreateCustomer(ctx context.Context, email string, metadata map[string]string, idempotencyKey string) (models.ExternalCustomer, error) {
	params := &stripe.CustomerParams{Email: stripe.String(email)}
	params.Context = ctx
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	if idempotencyKey != "" {
		params.SetIdempotencyKey(idempotencyKey)
	}
	c, err := p.api.Customers.New(params)
	observe("create_customer", err)
	if err != nil {
		return models.ExternalCustomer{}, fmt.Errorf("%w: create customer: %v", ErrProcessorUnavailable, err)
	}
	return models.ExternalCustomer{CustomerID: c.ID, Email: c.Email}, nil
}

func (p *StripeProcessor) ListInvoices(ctx context.Context, customerID string, limit int64) ([]models.Invoice, error) {
	params := &stripe.InvoiceListParams{Customer: stripe.String(customerID)}
	params.Context = ctx
	params.Limit = stripe.Int64(limit)
	params.Single = true

	invoices := []models.Invoice{}
	it := p.api.Invoices.List(params)
	for it.Next() {
		inv := it.Invoice()
		invoices = append(invoices, models.Invoice{
			ID:          inv.ID,
			CreatedAt:   time.Unix(inv.Created, 0).UTC(),
			AmountPaid:  inv.AmountPaid,
			Currency:    string(inv.Currency),
			Description: inv.Description,
			HostedURL:   inv.HostedInvoiceURL,
		})
	}
	err := it.Err()
	observe("list_invoices", err)
	if err != nil {
		return nil, fmt.Errorf("%w: list invoices: %v", ErrProcessorUnavailable, err)
	}
	return invoices, nil
}

func (p *StripeProcessor) ListCardPaymentMethods(ctx context.Context, customerID string) ([]models.PaymentMethod, error) {
	params := &stripe.PaymentMethodListParams{
		Customer: stripe.String(customerID),
		Type:     stripe.String(string(stripe.PaymentMethodTypeCard)),
	}
	params.Context = ctx
	params.Single = true

	methods := []models.PaymentMethod{}
	it := p.api.PaymentMethods.List(params)
	for it.Next() {
		pm := it.PaymentMethod()
		if pm.Card == nil {
			continue
		}
		methods = append(methods, models.PaymentMethod{
			Brand:    string(pm.Card.Brand),
			Last4:    pm.Card.Last4,
			ExpMonth: pm.Card.ExpMonth,
			ExpYear:  pm.Card.ExpYear,
		})
	}
	err := it.Err()
	observe("list_payment_methods", err)
	if err != nil {
		return nil, fmt.Errorf("%w: list payment methods: %v", ErrProcessorUnavailable, err)
	}
	return methods, nil
}

func (p *StripeProcessor) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx
	sess, err := p.api.BillingPortalSessions.New(params)
	observe("portal_session", err)
	if err != nil {
		return "", fmt.Errorf("%w: create portal session: %v", ErrProcessorUnavailable, err)
	}
	return sess.URL, nil
}

func observe(call string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.Upstream("stripe_"+call, outcome)
}
