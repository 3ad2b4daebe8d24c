package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// BalanceEpsilon - допуск при проверке балансового инварианта факта ($0.01)
var BalanceEpsilon = decimal.New(1, -2)

// Источники фактовых строк
const (
	FactSourceBilling = "billing"
	FactSourcePOS     = "pos"
)

// RevenueFact представляет строку факта FACT_REVENUE_TRANSACTIONS.
// Грануляция: одна строка на (source_transaction_id, line_number).
// Все меры вычисляются, никогда не вводятся независимо.
type RevenueFact struct {
	SourceTransactionID int64  `json:"source_transaction_id"`
	LineNumber          int    `json:"line_number"`
	Source              string `json:"source"`
	OrderNum            string `json:"order_num"`

	DateKey          int   `json:"date_key"`
	OfficeKey        int64 `json:"office_key"`
	PatientKey       int64 `json:"patient_key"`
	InsurancePlanKey int64 `json:"insurance_plan_key"`
	EmployeeKey      int64 `json:"employee_key"`
	ItemTypeKey      int64 `json:"item_type_key"`

	BilledAmount     decimal.Decimal `json:"billed_amount"`
	InsuranceAR      decimal.Decimal `json:"insurance_ar"`
	InsurancePayment decimal.Decimal `json:"insurance_payment"`
	PatientPayment   decimal.Decimal `json:"patient_payment"`
	Adjustment       decimal.Decimal `json:"adjustment"`
	RefundAdjustment decimal.Decimal `json:"refund_adjustment"`
	WriteoffAll      decimal.Decimal `json:"writeoff_all"`
	Collections      decimal.Decimal `json:"collections"`
	InsuranceBalance decimal.Decimal `json:"insurance_balance"`
	PatientBalance   decimal.Decimal `json:"patient_balance"`

	TransactionDate time.Time `json:"transaction_date"`
}

// BalanceResidual возвращает расхождение балансового инварианта:
// insurance_balance + patient_balance должно равняться
// billed - (insurance_payment + patient_payment + adjustment + writeoff_all)
func (f *RevenueFact) BalanceResidual() decimal.Decimal {
	target := f.BilledAmount.
		Sub(f.InsurancePayment).
		Sub(f.PatientPayment).
		Sub(f.Adjustment).
		Sub(f.WriteoffAll)
	return f.InsuranceBalance.Add(f.PatientBalance).Sub(target)
}

// BalanceHolds проверяет балансовый инвариант в пределах допуска
func (f *RevenueFact) BalanceHolds() bool {
	return f.BalanceResidual().Abs().LessThanOrEqual(BalanceEpsilon)
}

// AgingBucket возвращает корзину старения задолженности относительно
// даты запроса. Корзины вычисляются при чтении и не хранятся в таблице,
// поэтому старение всегда отсчитывается от момента запроса, а не загрузки.
func AgingBucket(asOf, transactionDate time.Time) string {
	days := int(asOf.Sub(transactionDate).Hours() / 24)
	switch {
	case days < 30:
		return "0-30"
	case days < 60:
		return "30-60"
	case days < 90:
		return "60-90"
	default:
		return "90+"
	}
}

// ControlTotals - контрольные суммы для сверки построенных фактов с источником
type ControlTotals struct {
	TransactionLineCount int64           `json:"transaction_line_count"`
	TotalBilled          decimal.Decimal `json:"total_billed"`
	TotalCollections     decimal.Decimal `json:"total_collections"`
}
