package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanFromRecordMonthly(t *testing.T) {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	plan := PlanFromRecord(SubscriptionRecord{
		PlanName:     "Pro",
		PlanType:     PlanTypeMonth,
		Amount:       23900,
		Active:       true,
		StartDate:    start,
		MinutesTotal: 1200,
		MinutesSpent: 200,
	})

	raw, err := json.Marshal(plan)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "month", got["interval"])
	assert.Equal(t, float64(23900), got["amount"])
	assert.Equal(t, float64(1200), got["minutes"])
	assert.Equal(t, float64(200), got["minutes_spent"])
}

func TestPlanFromRecordPaygIsUnlimited(t *testing.T) {
	plan := PlanFromRecord(SubscriptionRecord{PlanType: PlanTypePayg, Active: true, MinutesTotal: 50})

	raw, err := json.Marshal(plan)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, UnlimitedMinutes, got["minutes"])
}

func TestBillingSummaryNullPlan(t *testing.T) {
	raw, err := json.Marshal(BillingSummary{Invoices: []Invoice{}, PaymentMethods: []PaymentMethod{}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"current_plan":null,"invoices":[],"payment_methods":[]}`, string(raw))
}
