package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestAgingBucket(t *testing.T) {
	asOf := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		daysAgo  int
		expected string
	}{
		{0, "0-30"},
		{29, "0-30"},
		{30, "30-60"},
		{59, "30-60"},
		{60, "60-90"},
		{89, "60-90"},
		{90, "90+"},
		{365, "90+"},
	}

	for _, tc := range cases {
		txDate := asOf.AddDate(0, 0, -tc.daysAgo)
		if got := AgingBucket(asOf, txDate); got != tc.expected {
			t.Errorf("%d дней: ожидалась корзина %q, получена %q", tc.daysAgo, tc.expected, got)
		}
	}
}

func TestBalanceResidual(t *testing.T) {
	fact := RevenueFact{
		BilledAmount:     decimal.NewFromInt(300),
		InsurancePayment: decimal.NewFromInt(180),
		PatientPayment:   decimal.NewFromInt(90),
		Adjustment:       decimal.NewFromInt(10),
		WriteoffAll:      decimal.Zero,
		InsuranceBalance: decimal.NewFromInt(10),
		PatientBalance:   decimal.NewFromInt(10),
	}

	if !fact.BalanceResidual().IsZero() {
		t.Errorf("инвариант должен сходиться, остаток %s", fact.BalanceResidual())
	}
	if !fact.BalanceHolds() {
		t.Error("BalanceHolds должен подтверждать сошедшийся инвариант")
	}

	fact.PatientBalance = decimal.NewFromFloat(10.02)
	if fact.BalanceHolds() {
		t.Error("расхождение сверх допуска должно обнаруживаться")
	}
}
