package billing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"accountgate/internal/models"
	"accountgate/internal/services"
)

type fakeProcessor struct {
	mu sync.Mutex

	customers map[string]string
	creates   int
	finds     int

	lastMetadata map[string]string
	lastIdemKey  string

	invoices     []models.Invoice
	methods      []models.PaymentMethod
	methodCalls  int
	invoiceDelay time.Duration
	portalURL    string
	lastReturn   string

	findErr    error
	createErr  error
	invoiceErr error
	methodErr  error
	portalErr  error
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{customers: map[string]string{}, portalURL: "https://billing.example.com/session/abc"}
}

func (f *fakeProcessor) FindCustomerByEmail(ctx context.Context, email string) (models.ExternalCustomer, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finds++
	if f.findErr != nil {
		return models.ExternalCustomer{}, false, f.findErr
	}
	id, ok := f.customers[email]
	if !ok {
		return models.ExternalCustomer{}, false, nil
	}
	return models.ExternalCustomer{CustomerID: id, Email: email}, true, nil
}

func (f *fakeProcessor) CreateCustomer(ctx context.Context, email string, metadata map[string]string, idempotencyKey string) (models.ExternalCustomer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return models.ExternalCustomer{}, f.createErr
	}
	f.creates++
	f.lastMetadata = metadata
	f.lastIdemKey = idempotencyKey
	id := fmt.Sprintf("cus_%d", f.creates)
	f.customers[email] = id
	return models.ExternalCustomer{CustomerID: id, Email: email}, nil
}

func (f *fakeProcessor) ListInvoices(ctx context.Context, customerID string, limit int64) ([]models.Invoice, error) {
	if f.invoiceDelay > 0 {
		select {
		case <-time.After(f.invoiceDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.invoiceErr != nil {
		return nil, f.invoiceErr
	}
	out := make([]models.Invoice, len(f.invoices))
	copy(out, f.invoices)
	return out, nil
}

func (f *fakeProcessor) ListCardPaymentMethods(ctx context.Context, customerID string) ([]models.PaymentMethod, error) {
	f.mu.Lock()
	f.methodCalls++
	f.mu.Unlock()
	if f.methodErr != nil {
		return nil, f.methodErr
	}
	return f.methods, nil
}

func (f *fakeProcessor) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if f.portalErr != nil {
		return "", f.portalErr
	}
	f.lastReturn = returnURL
	return f.portalURL, nil
}

type fakeStore struct {
	emails  map[string]string
	subs    map[string]models.SubscriptionRecord
	userErr error
	subErr  error
}

func (s *fakeStore) UserEmail(ctx context.Context, userID string) (string, error) {
	if s.userErr != nil {
		return "", s.userErr
	}
	email, ok := s.emails[userID]
	if !ok {
		return "", services.ErrNotFound
	}
	return email, nil
}

func (s *fakeStore) ActiveSubscription(ctx context.Context, userID string) (models.SubscriptionRecord, error) {
	if s.subErr != nil {
		return models.SubscriptionRecord{}, s.subErr
	}
	rec, ok := s.subs[userID]
	if !ok || !rec.Active {
		return models.SubscriptionRecord{}, services.ErrNotFound
	}
	return rec, nil
}
