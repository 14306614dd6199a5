package models

import (
	"encoding/json"
	"time"
)

const (
	PlanTypeWeek  = "week"
	PlanTypeMonth = "month"
	PlanTypeYear  = "year"
	PlanTypePayg  = "payg"
)

// UnlimitedMinutes 按量计费套餐不计分钟数
const UnlimitedMinutes = "Unlimited"

// Session 身份提供方签发的一对凭证，只能整体写入 cookie
type Session struct {
	AccessToken   string
	RefreshToken  string
	AccessExpiry  time.Time
	RefreshExpiry time.Time
}

// Subject 当前请求的已认证主体，不落库
type Subject struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type SubscriptionRecord struct {
	UserID         string
	PlanName       string
	PlanType       string
	Amount         int64
	Active         bool
	StartDate      time.Time
	MinutesTotal   int64
	MinutesSpent   int64
	MinutesToSpend int64
}

type ExternalCustomer struct {
	CustomerID string
	Email      string
}

type Invoice struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	AmountPaid  int64     `json:"amount_paid"`
	Currency    string    `json:"currency"`
	Description string    `json:"description"`
	HostedURL   string    `json:"hosted_url"`
}

type PaymentMethod struct {
	Brand    string `json:"brand"`
	Last4    string `json:"last4"`
	ExpMonth int64  `json:"exp_month"`
	ExpYear  int64  `json:"exp_year"`
}

// Minutes 分钟额度，按量计费时序列化为 "Unlimited"，否则为数字
type Minutes struct {
	Unlimited bool
	Total     int64
}

func (m Minutes) MarshalJSON() ([]byte, error) {
	if m.Unlimited {
		return json.Marshal(UnlimitedMinutes)
	}
	return json.Marshal(m.Total)
}

type CurrentPlan struct {
	Name           string    `json:"name"`
	Interval       string    `json:"interval"`
	Amount         int64     `json:"amount"`
	Active         bool      `json:"active"`
	StartDate      time.Time `json:"start_date"`
	Minutes        Minutes   `json:"minutes"`
	MinutesSpent   int64     `json:"minutes_spent"`
	MinutesToSpend int64     `json:"minutes_to_spend"`
}

// PlanFromRecord 把订阅记录转换成对外展示的当前套餐
func PlanFromRecord(rec SubscriptionRecord) CurrentPlan {
	return CurrentPlan{
		Name:      rec.PlanName,
		Interval:  rec.PlanType,
		Amount:    rec.Amount,
		Active:    rec.Active,
		StartDate: rec.StartDate,
		Minutes: Minutes{
			Unlimited: rec.PlanType == PlanTypePayg,
			Total:     rec.MinutesTotal,
		},
		MinutesSpent:   rec.MinutesSpent,
		MinutesToSpend: rec.MinutesToSpend,
	}
}

// BillingSummary 每次请求重新计算，不持久化
type BillingSummary struct {
	CurrentPlan    *CurrentPlan    `json:"current_plan"`
	Invoices       []Invoice       `json:"invoices"`
	PaymentMethods []PaymentMethod `json:"payment_methods"`
}
