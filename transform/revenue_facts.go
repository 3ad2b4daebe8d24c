package transform

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/optiflow/eyecare_datamart/models"
	"github.com/optiflow/eyecare_datamart/utils"
)

// factKey - грануляция фактовой таблицы: одна строка на строку исходной
// транзакции
type factKey struct {
	source  string
	transID int64
	line    int
}

// factAccumulator накапливает финансовые меры одной строки транзакции
// раздельно по страховой и пациентской стороне. Все события источника -
// дельты дебиторской задолженности, поэтому балансы складываются из
// сторон тождественно: insurance_balance + patient_balance всегда равно
// billed - (insurance_payment + patient_payment + adjustment + writeoff_all).
type factAccumulator struct {
	orderNum        string
	patientID       int
	officeNum       string
	insurancePlanID int
	employeeID      int
	itemTypeID      int
	transactionDate time.Time

	billedIns decimal.Decimal
	billedPat decimal.Decimal
	payIns    decimal.Decimal
	payPat    decimal.Decimal
	adjIns    decimal.Decimal
	adjPat    decimal.Decimal
	woIns     decimal.Decimal
	woPat     decimal.Decimal
	refund    decimal.Decimal
}

// FactResult содержит итоги фазы сборки фактов
type FactResult struct {
	Facts    []models.RevenueFact
	Rejected []models.RejectedRow
}

// FactBuilder собирает строки факта FACT_REVENUE_TRANSACTIONS из событий
// биллинга и POS, разрешая внешние ключи через хранилище измерений
type FactBuilder struct {
	store  DimensionStore
	logger *utils.ETLLogger
}

// NewFactBuilder создает новый экземпляр FactBuilder
func NewFactBuilder(store DimensionStore, logger *utils.ETLLogger) *FactBuilder {
	return &FactBuilder{
		store:  store,
		logger: logger,
	}
}

// BuildFacts собирает фактовые строки из извлеченных событий. События
// одной строки транзакции сворачиваются в единственную фактовую строку.
// На входе ожидается полная история событий каждой затронутой строки
// (извлечение дотягивает события прежних окон), поэтому при загрузке
// строка замещается целиком, с накопленными мерами, а не мерами одного
// окна.
func (b *FactBuilder) BuildFacts(ctx context.Context, data *models.ExtractedData) (*FactResult, error) {
	startTime := time.Now()
	b.logger.Info("Начало фазы сборки фактов")

	result := &FactResult{}
	groups := make(map[factKey]*factAccumulator)

	for _, trans := range data.BillingTransactions {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrRunCancelled, err)
		}
		b.accumulateBilling(groups, trans, result)
	}
	for _, trans := range data.POSTransactions {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrRunCancelled, err)
		}
		b.accumulatePOS(groups, trans, result)
	}

	// Сортируем ключи для детерминированного порядка сборки
	keys := make([]factKey, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].source != keys[j].source {
			return keys[i].source < keys[j].source
		}
		if keys[i].transID != keys[j].transID {
			return keys[i].transID < keys[j].transID
		}
		return keys[i].line < keys[j].line
	})

	for _, key := range keys {
		fact, rejected, err := b.resolveFact(key, groups[key])
		if err != nil {
			return nil, err
		}
		if rejected != nil {
			result.Rejected = append(result.Rejected, *rejected)
			b.logger.LogRejectedRow(rejected.Entity,
				fmt.Sprintf("%d/%d", rejected.SourceTransactionID, rejected.LineNumber), rejected.Reason)
			continue
		}
		result.Facts = append(result.Facts, *fact)
	}

	b.logger.Info("Фаза сборки фактов завершена. Построено строк: %d, отбраковано: %d. Длительность: %v",
		len(result.Facts), len(result.Rejected), time.Since(startTime))
	return result, nil
}

// Типы событий, участвующие в мерах фактовой таблицы
var knownBillingTypes = map[int]bool{
	models.BillingTransCharge: true, models.BillingTransRebill: true,
	models.BillingTransInsPayment: true, models.BillingTransInsPaymentEFT: true,
	models.BillingTransRefund: true, models.BillingTransRefundReversal: true,
	models.BillingTransPatientTransfer: true, models.BillingTransCollections: true,
	models.BillingTransAdjustment: true, models.BillingTransWriteOffCarrier: true,
	models.BillingTransWriteOffPatient: true,
}

var knownPOSTypes = map[int]bool{
	models.POSTransSale: true, models.POSTransPatientPayment: true,
	models.POSTransPatientCard: true, models.POSTransPatientCredit: true,
	models.POSTransCollections: true, models.POSTransRefund: true,
}

// accumulateBilling разносит событие биллинга по мерам соответствующей
// фактовой строки. Корректировки, переносы остатка, передачи в коллекторы
// и возвраты попадают в общую меру adjustment; возвраты дополнительно
// выделяются в refund_adjustment.
func (b *FactBuilder) accumulateBilling(groups map[factKey]*factAccumulator, trans models.BillingTransactionOLTP, result *FactResult) {
	if !knownBillingTypes[trans.TransTypeID] {
		result.Rejected = append(result.Rejected, models.RejectedRow{
			Entity:              "fact_revenue",
			SourceTransactionID: trans.SourceTransactionID,
			LineNumber:          trans.LineNumber,
			Reason:              fmt.Sprintf("неизвестный тип транзакции биллинга %d", trans.TransTypeID),
		})
		return
	}

	key := factKey{source: models.FactSourceBilling, transID: trans.SourceTransactionID, line: trans.LineNumber}
	acc := groups[key]
	if acc == nil {
		acc = &factAccumulator{
			orderNum:        trans.OrderNum,
			patientID:       trans.PatientID,
			officeNum:       trans.OfficeNum,
			insurancePlanID: trans.InsurancePlanID,
			employeeID:      trans.EmployeeID,
			itemTypeID:      trans.ItemTypeID,
			transactionDate: trans.TransactionDate,
		}
		groups[key] = acc
	}
	if trans.TransactionDate.Before(acc.transactionDate) {
		acc.transactionDate = trans.TransactionDate
	}
	if acc.insurancePlanID == 0 && trans.InsurancePlanID != 0 {
		acc.insurancePlanID = trans.InsurancePlanID
	}

	ins, pat := trans.InsDeltaAR, trans.PatDeltaAR

	switch trans.TransTypeID {
	case models.BillingTransCharge, models.BillingTransRebill:
		acc.billedIns = acc.billedIns.Add(ins)
		acc.billedPat = acc.billedPat.Add(pat)

	case models.BillingTransInsPayment, models.BillingTransInsPaymentEFT:
		// Платежи приходят отрицательными дельтами
		acc.payIns = acc.payIns.Sub(ins)
		acc.payPat = acc.payPat.Sub(pat)

	case models.BillingTransRefund, models.BillingTransRefundReversal:
		acc.refund = acc.refund.Sub(ins).Sub(pat)
		acc.adjIns = acc.adjIns.Sub(ins)
		acc.adjPat = acc.adjPat.Sub(pat)

	case models.BillingTransPatientTransfer, models.BillingTransCollections, models.BillingTransAdjustment:
		acc.adjIns = acc.adjIns.Sub(ins)
		acc.adjPat = acc.adjPat.Sub(pat)

	case models.BillingTransWriteOffCarrier, models.BillingTransWriteOffPatient:
		acc.woIns = acc.woIns.Sub(ins)
		acc.woPat = acc.woPat.Sub(pat)
	}
}

// accumulatePOS разносит POS-событие по мерам. Вся сумма относится к
// пациентской стороне.
func (b *FactBuilder) accumulatePOS(groups map[factKey]*factAccumulator, trans models.POSTransactionOLTP, result *FactResult) {
	if !knownPOSTypes[trans.TransactionTypeID] {
		result.Rejected = append(result.Rejected, models.RejectedRow{
			Entity:              "fact_revenue",
			SourceTransactionID: trans.SourceTransactionID,
			LineNumber:          trans.LineNumber,
			Reason:              fmt.Sprintf("неизвестный тип POS-транзакции %d", trans.TransactionTypeID),
		})
		return
	}

	key := factKey{source: models.FactSourcePOS, transID: trans.SourceTransactionID, line: trans.LineNumber}
	acc := groups[key]
	if acc == nil {
		acc = &factAccumulator{
			orderNum:        trans.OrderNum,
			patientID:       trans.PatientID,
			officeNum:       trans.OfficeNum,
			employeeID:      trans.EmployeeID,
			itemTypeID:      trans.ItemTypeID,
			transactionDate: trans.TransactionDate,
		}
		groups[key] = acc
	}
	if trans.TransactionDate.Before(acc.transactionDate) {
		acc.transactionDate = trans.TransactionDate
	}

	amount := trans.Amount

	switch trans.TransactionTypeID {
	case models.POSTransSale:
		acc.billedPat = acc.billedPat.Add(amount)

	case models.POSTransPatientPayment, models.POSTransPatientCard, models.POSTransCollections:
		acc.payPat = acc.payPat.Sub(amount)

	case models.POSTransPatientCredit:
		acc.adjPat = acc.adjPat.Sub(amount)

	case models.POSTransRefund:
		acc.refund = acc.refund.Sub(amount)
		acc.adjPat = acc.adjPat.Sub(amount)
	}
}

// resolveFact разрешает внешние ключи и вычисляет итоговые меры фактовой
// строки. Пациент и офис обязательны: строка с неразрешимым обязательным
// измерением отбраковывается. Необязательные измерения без соответствия
// получают суррогатный ключ 0 (неизвестный член измерения).
func (b *FactBuilder) resolveFact(key factKey, acc *factAccumulator) (*models.RevenueFact, *models.RejectedRow, error) {
	office, err := b.store.LookupCurrent(models.DimOffice, acc.officeNum)
	if err != nil {
		return nil, nil, fmt.Errorf("поиск офиса %s: %w", acc.officeNum, err)
	}
	if office == nil {
		return nil, &models.RejectedRow{
			Entity:              "fact_revenue",
			SourceTransactionID: key.transID,
			LineNumber:          key.line,
			Reason:              fmt.Sprintf("%v: офис %s", models.ErrUnresolvableDimensionRow, acc.officeNum),
		}, nil
	}

	// Темпоральное соединение: версия пациента, действовавшая на дату транзакции
	patient, err := b.store.LookupAsOf(models.DimPatient, models.NaturalKeyInt(acc.patientID), acc.transactionDate)
	if err != nil {
		return nil, nil, fmt.Errorf("поиск пациента %d: %w", acc.patientID, err)
	}
	if patient == nil {
		return nil, &models.RejectedRow{
			Entity:              "fact_revenue",
			SourceTransactionID: key.transID,
			LineNumber:          key.line,
			Reason:              fmt.Sprintf("%v: пациент %d", models.ErrUnresolvableDimensionRow, acc.patientID),
		}, nil
	}

	var planKey int64
	if acc.insurancePlanID != 0 {
		plan, err := b.store.LookupAsOf(models.DimInsurancePlan, models.NaturalKeyInt(acc.insurancePlanID), acc.transactionDate)
		if err != nil {
			return nil, nil, fmt.Errorf("поиск страхового плана %d: %w", acc.insurancePlanID, err)
		}
		if plan != nil {
			planKey = plan.SurrogateKey
		}
	}

	var employeeKey int64
	if acc.employeeID != 0 {
		employee, err := b.store.LookupAsOf(models.DimEmployee, models.NaturalKeyInt(acc.employeeID), acc.transactionDate)
		if err != nil {
			return nil, nil, fmt.Errorf("поиск сотрудника %d: %w", acc.employeeID, err)
		}
		if employee != nil {
			employeeKey = employee.SurrogateKey
		}
	}

	var itemTypeKey int64
	if acc.itemTypeID != 0 {
		itemType, err := b.store.LookupCurrent(models.DimItemType, models.NaturalKeyInt(acc.itemTypeID))
		if err != nil {
			return nil, nil, fmt.Errorf("поиск типа товара %d: %w", acc.itemTypeID, err)
		}
		if itemType != nil {
			itemTypeKey = itemType.SurrogateKey
		}
	}

	fact := &models.RevenueFact{
		SourceTransactionID: key.transID,
		LineNumber:          key.line,
		Source:              key.source,
		OrderNum:            acc.orderNum,

		DateKey:          models.DateKeyOf(acc.transactionDate),
		OfficeKey:        office.SurrogateKey,
		PatientKey:       patient.SurrogateKey,
		InsurancePlanKey: planKey,
		EmployeeKey:      employeeKey,
		ItemTypeKey:      itemTypeKey,

		BilledAmount:     acc.billedIns.Add(acc.billedPat),
		InsuranceAR:      acc.billedIns,
		InsurancePayment: acc.payIns,
		PatientPayment:   acc.payPat,
		Adjustment:       acc.adjIns.Add(acc.adjPat),
		RefundAdjustment: acc.refund,
		WriteoffAll:      acc.woIns.Add(acc.woPat),
		InsuranceBalance: acc.billedIns.Sub(acc.payIns).Sub(acc.adjIns).Sub(acc.woIns),
		PatientBalance:   acc.billedPat.Sub(acc.payPat).Sub(acc.adjPat).Sub(acc.woPat),

		TransactionDate: acc.transactionDate,
	}
	fact.Collections = fact.InsurancePayment.Add(fact.PatientPayment)

	// Балансовый инвариант держится тождественно; остаток возможен только
	// из-за округления и относится на корректировку
	if residual := fact.BalanceResidual(); !residual.IsZero() {
		fact.Adjustment = fact.Adjustment.Sub(residual)
	}

	return fact, nil, nil
}
