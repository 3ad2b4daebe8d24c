package models

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Коды типов транзакций биллинга (trans_type_id в исходной системе).
// Категоризация соответствует бизнес-правилам revenue cycle:
// каждая запись - дельта по дебиторской задолженности (AR).
const (
	BillingTransCharge          = 1  // начисление по строке заказа
	BillingTransInsPayment      = 2  // платеж страховой
	BillingTransInsPaymentEFT   = 3  // платеж страховой (электронный)
	BillingTransRefund          = 4  // возврат
	BillingTransRefundReversal  = 5  // сторно возврата
	BillingTransPatientTransfer = 6  // перенос остатка на пациента
	BillingTransCollections     = 7  // передача в коллекторское агентство
	BillingTransWriteOffCarrier = 8  // списание по страховой
	BillingTransAdjustment      = 11 // корректировка
	BillingTransWriteOffPatient = 15 // списание по пациенту
	BillingTransRebill          = 16 // повторное выставление
)

// Коды типов POS-транзакций (transaction_type_id).
const (
	POSTransSale           = 1  // продажа (начисление)
	POSTransPatientPayment = 2  // оплата пациентом
	POSTransPatientCard    = 4  // оплата пациентом картой
	POSTransPatientCredit  = 12 // кредит пациенту
	POSTransCollections    = 13 // платеж через коллекторов
	POSTransRefund         = 15 // возврат
)

// PatientOLTP представляет пациента в исходной БД
type PatientOLTP struct {
	ID           int
	FirstName    string
	LastName     string
	BirthDate    time.Time
	Gender       string
	City         string
	State        string
	ZipCode      string
	Status       string
	RegisteredAt time.Time
	LastModified time.Time
	SeqNum       int64
}

// OfficeOLTP представляет офис (точку продаж) в исходной БД
type OfficeOLTP struct {
	OfficeNum    string
	OfficeName   string
	CompanyID    int
	Region       string
	City         string
	State        string
	Active       bool
	LastModified time.Time
	SeqNum       int64
}

// EmployeeOLTP представляет сотрудника в исходной БД
type EmployeeOLTP struct {
	ID             int
	FirstName      string
	LastName       string
	OfficeNum      string
	Department     string
	Position       string
	CommissionRate decimal.Decimal
	LastModified   time.Time
	SeqNum         int64
}

// InsurancePlanOLTP представляет страховой план (карьер + план) в исходной БД
type InsurancePlanOLTP struct {
	ID           int
	CarrierName  string
	PlanName     string
	PlanType     string
	IsPrepaid    bool
	LastModified time.Time
	SeqNum       int64
}

// OrderOLTP представляет заказ в исходной БД
type OrderOLTP struct {
	OrderNum     string
	CustomerID   int
	OfficeNum    string
	EmployeeID   int
	OrderDate    time.Time
	StatusCode   string
	LastModified time.Time
	SeqNum       int64
}

// OrderItemOLTP представляет строку заказа в исходной БД
type OrderItemOLTP struct {
	OrderNum     string
	LineNumber   int
	ItemID       int
	ItemTypeID   int
	ItemName     string
	Category     string
	Quantity     decimal.Decimal
	Retail       decimal.Decimal
	LastModified time.Time
	SeqNum       int64
}

// BillingTransactionOLTP представляет событие биллинга.
// ins_delta_ar и pat_delta_ar - дельты задолженности по страховой
// и пациентской стороне; платежи и списания приходят со знаком минус.
type BillingTransactionOLTP struct {
	EventID             int64
	SourceTransactionID int64
	LineNumber          int
	OrderNum            string
	PatientID           int
	OfficeNum           string
	InsurancePlanID     int
	EmployeeID          int
	ItemTypeID          int
	TransTypeID         int
	AdjustmentReasonID  int
	InsDeltaAR          decimal.Decimal
	PatDeltaAR          decimal.Decimal
	TransactionDate     time.Time
	LastModified        time.Time
	SeqNum              int64
}

// POSTransactionOLTP представляет событие кассы (POS).
// Вся сумма относится к пациентской стороне; платежи и возвраты
// приходят со знаком минус, продажи - с плюсом.
type POSTransactionOLTP struct {
	EventID             int64
	SourceTransactionID int64
	LineNumber          int
	OrderNum            string
	PatientID           int
	OfficeNum           string
	EmployeeID          int
	ItemTypeID          int
	TransactionTypeID   int
	Amount              decimal.Decimal
	TransactionDate     time.Time
	LastModified        time.Time
	SeqNum              int64
}

// FactLineKey идентифицирует строку транзакции по грануляции фактовой таблицы
type FactLineKey struct {
	SourceTransactionID int64
	LineNumber          int
}

// BillingLineKeys возвращает ключи строк транзакций, затронутых событиями
// биллинга, без дубликатов и в детерминированном порядке
func BillingLineKeys(events []BillingTransactionOLTP) []FactLineKey {
	seen := make(map[FactLineKey]bool, len(events))
	var keys []FactLineKey
	for _, event := range events {
		key := FactLineKey{SourceTransactionID: event.SourceTransactionID, LineNumber: event.LineNumber}
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	sortLineKeys(keys)
	return keys
}

// POSLineKeys возвращает ключи строк транзакций, затронутых POS-событиями
func POSLineKeys(events []POSTransactionOLTP) []FactLineKey {
	seen := make(map[FactLineKey]bool, len(events))
	var keys []FactLineKey
	for _, event := range events {
		key := FactLineKey{SourceTransactionID: event.SourceTransactionID, LineNumber: event.LineNumber}
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	sortLineKeys(keys)
	return keys
}

func sortLineKeys(keys []FactLineKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].SourceTransactionID != keys[j].SourceTransactionID {
			return keys[i].SourceTransactionID < keys[j].SourceTransactionID
		}
		return keys[i].LineNumber < keys[j].LineNumber
	})
}

// ExtractedData содержит все данные, извлеченные из источника за окно водяного знака
type ExtractedData struct {
	Patients            []PatientOLTP
	Offices             []OfficeOLTP
	Employees           []EmployeeOLTP
	InsurancePlans      []InsurancePlanOLTP
	Orders              []OrderOLTP
	OrderItems          []OrderItemOLTP
	BillingTransactions []BillingTransactionOLTP
	POSTransactions     []POSTransactionOLTP

	WindowLow  time.Time
	WindowHigh time.Time
}

// TotalSourceRows возвращает общее количество извлеченных строк источника.
// Используется как знаменатель при проверке порога отбраковки.
func (d *ExtractedData) TotalSourceRows() int {
	return len(d.Patients) + len(d.Offices) + len(d.Employees) +
		len(d.InsurancePlans) + len(d.Orders) + len(d.OrderItems) +
		len(d.BillingTransactions) + len(d.POSTransactions)
}
