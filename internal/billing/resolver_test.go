package billing

import (
	"context"
	"errors"
	"testing"

	"accountgate/internal/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveCreatesOnceForSameEmail(t *testing.T) {
	proc := newFakeProcessor()
	r := NewResolver(&fakeStore{}, proc, "account-portal", logging.Discard())

	first, err := r.Resolve(context.Background(), "u-1", "a@example.com")
	require.NoError(t, err)
	second, err := r.Resolve(context.Background(), "u-1", "a@example.com")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, proc.creates)
	assert.Equal(t, 2, proc.finds)
}

func TestResolveTagsProvenance(t *testing.T) {
	proc := newFakeProcessor()
	r := NewResolver(&fakeStore{}, proc, "account-portal", logging.Discard())

	_, err := r.Resolve(context.Background(), "u-1", "  A@Example.com ")
	require.NoError(t, err)
	assert.Equal(t, "account-portal", proc.lastMetadata["source"])
	assert.Equal(t, "u-1", proc.lastMetadata["user_id"])
	assert.Equal(t, customerIdempotencyKey("A@Example.com", "account-portal", "u-1"), proc.lastIdemKey)
	assert.Contains(t, proc.customers, "A@Example.com")
}

func TestResolveFindsMixedCaseCustomer(t *testing.T) {
	proc := newFakeProcessor()
	proc.customers["Alice@Example.com"] = "cus_existing"
	r := NewResolver(&fakeStore{}, proc, "account-portal", logging.Discard())

	id, err := r.Resolve(context.Background(), "u-1", "Alice@Example.com")
	require.NoError(t, err)
	assert.Equal(t, "cus_existing", id)
	assert.Zero(t, proc.creates)

	store := &fakeStore{emails: map[string]string{"u-2": " Alice@Example.com"}}
	id, err = NewResolver(store, proc, "account-portal", logging.Discard()).Resolve(context.Background(), "u-2", "")
	require.NoError(t, err)
	assert.Equal(t, "cus_existing", id)
	assert.Zero(t, proc.creates)
}

func TestCustomerIdempotencyKeyCoversCreateParams(t *testing.T) {
	base := customerIdempotencyKey("a@example.com", "account-portal", "u-1")
	assert.Equal(t, base, customerIdempotencyKey("a@example.com", "account-portal", "u-1"))
	assert.NotEqual(t, base, customerIdempotencyKey("A@example.com", "account-portal", "u-1"))
	assert.NotEqual(t, base, customerIdempotencyKey("a@example.com", "account-portal", "u-2"))
	assert.NotEqual(t, base, customerIdempotencyKey("a@example.com", "other", "u-1"))
	assert.NotEqual(t, base, customerIdempotencyKey("a@example.com", "account-portal", ""))
}

func TestResolveReturnsExistingCustomer(t *testing.T) {
	proc := newFakeProcessor()
	proc.customers["a@example.com"] = "cus_existing"
	r := NewResolver(&fakeStore{}, proc, "account-portal", logging.Discard())

	id, err := r.Resolve(context.Background(), "u-1", "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, "cus_existing", id)
	assert.Zero(t, proc.creates)
}

func TestResolveLooksUpEmailWhenNoHint(t *testing.T) {
	proc := newFakeProcessor()
	store := &fakeStore{emails: map[string]string{"u-1": "stored@example.com"}}
	r := NewResolver(store, proc, "account-portal", logging.Discard())

	_, err := r.Resolve(context.Background(), "u-1", "")
	require.NoError(t, err)
	assert.Contains(t, proc.customers, "stored@example.com")
}

func TestResolveNoBillingIdentity(t *testing.T) {
	proc := newFakeProcessor()
	r := NewResolver(&fakeStore{}, proc, "account-portal", logging.Discard())

	_, err := r.Resolve(context.Background(), "u-404", "")
	assert.ErrorIs(t, err, ErrNoBillingIdentity)

	_, err = r.Resolve(context.Background(), "", "")
	assert.ErrorIs(t, err, ErrNoBillingIdentity)
	assert.Zero(t, proc.finds)
}

func TestResolveStoreFailureIsNotMissingIdentity(t *testing.T) {
	store := &fakeStore{userErr: errors.New("connection refused")}
	r := NewResolver(store, newFakeProcessor(), "account-portal", logging.Discard())

	_, err := r.Resolve(context.Background(), "u-1", "")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoBillingIdentity)
}

func TestResolveLookupFailureNeverCreates(t *testing.T) {
	proc := newFakeProcessor()
	proc.findErr = ErrProcessorUnavailable
	r := NewResolver(&fakeStore{}, proc, "account-portal", logging.Discard())

	_, err := r.Resolve(context.Background(), "u-1", "a@example.com")
	assert.ErrorIs(t, err, ErrProcessorUnavailable)
	assert.Zero(t, proc.creates)
}
