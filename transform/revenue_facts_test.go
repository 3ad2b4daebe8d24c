package transform_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/optiflow/eyecare_datamart/load"
	"github.com/optiflow/eyecare_datamart/models"
	"github.com/optiflow/eyecare_datamart/transform"
	"github.com/optiflow/eyecare_datamart/utils"
)

var txDate = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

// newConformedStaging подготавливает область с офисом OFF-01 и пациентом 42
func newConformedStaging(t *testing.T) (*load.MemoryMart, load.Staging) {
	t.Helper()
	mart := load.NewMemoryMart()

	staging, err := mart.Begin()
	if err != nil {
		t.Fatalf("не удалось создать подготовленную область: %v", err)
	}
	logger := utils.NewETLLogger(false)
	conformer := transform.NewSCDConformer(staging.Dimensions(), logger, 1)

	_, err = conformer.ConformDimension(context.Background(), transform.OfficeDimensionSpec,
		[]models.DimensionChange{{
			NaturalKey:      "OFF-01",
			Attributes:      map[string]string{"office_name": "Центральный"},
			SourceTimestamp: run1Time,
		}}, run1Time)
	if err != nil {
		t.Fatalf("конформация офиса: %v", err)
	}

	_, err = conformer.ConformDimension(context.Background(), transform.PatientDimensionSpec,
		[]models.DimensionChange{{
			NaturalKey:      "42",
			Attributes:      map[string]string{"first_name": "Анна", "last_name": "Ким", "age_group": "30-39"},
			SourceTimestamp: run1Time,
		}}, run1Time)
	if err != nil {
		t.Fatalf("конформация пациента: %v", err)
	}

	return mart, staging
}

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestFactFinancialMeasures(t *testing.T) {
	_, staging := newConformedStaging(t)

	data := &models.ExtractedData{
		BillingTransactions: []models.BillingTransactionOLTP{
			{
				SourceTransactionID: 1001, LineNumber: 1, OrderNum: "ORD-1",
				PatientID: 42, OfficeNum: "OFF-01",
				TransTypeID: models.BillingTransCharge,
				InsDeltaAR:  dec(200), PatDeltaAR: dec(100),
				TransactionDate: txDate,
			},
			{
				SourceTransactionID: 1001, LineNumber: 1, OrderNum: "ORD-1",
				PatientID: 42, OfficeNum: "OFF-01",
				TransTypeID: models.BillingTransInsPayment,
				InsDeltaAR:  dec(-180),
				TransactionDate: txDate.Add(24 * time.Hour),
			},
			{
				SourceTransactionID: 1001, LineNumber: 1, OrderNum: "ORD-1",
				PatientID: 42, OfficeNum: "OFF-01",
				TransTypeID: models.BillingTransAdjustment,
				InsDeltaAR:  dec(-10),
				TransactionDate: txDate.Add(48 * time.Hour),
			},
		},
		POSTransactions: []models.POSTransactionOLTP{
			{
				SourceTransactionID: 2001, LineNumber: 1, OrderNum: "ORD-1",
				PatientID: 42, OfficeNum: "OFF-01",
				TransactionTypeID: models.POSTransPatientPayment,
				Amount:            dec(-90),
				TransactionDate:   txDate.Add(24 * time.Hour),
			},
		},
	}

	builder := transform.NewFactBuilder(staging.Dimensions(), utils.NewETLLogger(false))
	result, err := builder.BuildFacts(context.Background(), data)
	if err != nil {
		t.Fatalf("сборка фактов завершилась ошибкой: %v", err)
	}
	if len(result.Rejected) != 0 {
		t.Fatalf("отбраковок не ожидалось: %v", result.Rejected)
	}
	if len(result.Facts) != 2 {
		t.Fatalf("ожидалось 2 фактовые строки, получено %d", len(result.Facts))
	}

	var billing, pos *models.RevenueFact
	for i := range result.Facts {
		switch result.Facts[i].Source {
		case models.FactSourceBilling:
			billing = &result.Facts[i]
		case models.FactSourcePOS:
			pos = &result.Facts[i]
		}
	}
	if billing == nil || pos == nil {
		t.Fatal("должны быть построены факты обоих источников")
	}

	checks := []struct {
		name     string
		got      decimal.Decimal
		expected decimal.Decimal
	}{
		{"billed_amount", billing.BilledAmount, dec(300)},
		{"insurance_ar", billing.InsuranceAR, dec(200)},
		{"insurance_payment", billing.InsurancePayment, dec(180)},
		{"adjustment", billing.Adjustment, dec(10)},
		{"collections", billing.Collections, dec(180)},
		{"insurance_balance", billing.InsuranceBalance, dec(10)},
		{"patient_balance", billing.PatientBalance, dec(100)},
		{"pos patient_payment", pos.PatientPayment, dec(90)},
		{"pos collections", pos.Collections, dec(90)},
		{"pos patient_balance", pos.PatientBalance, dec(-90)},
	}
	for _, check := range checks {
		if !check.got.Equal(check.expected) {
			t.Errorf("%s: ожидалось %s, получено %s", check.name, check.expected, check.got)
		}
	}

	if !billing.BalanceHolds() || !pos.BalanceHolds() {
		t.Error("балансовый инвариант должен сходиться на каждой фактовой строке")
	}

	// Сводно по окну: начислено 300, собрано 270, совокупный остаток 20
	combined := billing.InsuranceBalance.Add(billing.PatientBalance).
		Add(pos.InsuranceBalance).Add(pos.PatientBalance)
	if !combined.Equal(dec(20)) {
		t.Errorf("совокупный остаток: ожидалось 20, получено %s", combined)
	}

	if err := staging.Facts().UpsertFacts(result.Facts); err != nil {
		t.Fatalf("загрузка фактов: %v", err)
	}
	totals, err := staging.Facts().StagedTotals()
	if err != nil {
		t.Fatalf("контрольные суммы: %v", err)
	}
	if totals.TransactionLineCount != 2 || !totals.TotalBilled.Equal(dec(300)) || !totals.TotalCollections.Equal(dec(270)) {
		t.Errorf("некорректные контрольные суммы: %+v", totals)
	}

	if billing.DateKey != 20250601 {
		t.Errorf("ключ даты должен браться от самого раннего события: %d", billing.DateKey)
	}
}

func TestTemporalJoinUsesVersionAtTransactionDate(t *testing.T) {
	mart, staging := newConformedStaging(t)
	if err := staging.Commit(); err != nil {
		t.Fatalf("фиксация: %v", err)
	}
	v1 := mart.CurrentRow(models.DimPatient, "42")

	// Вторая версия пациента появляется позже даты транзакции
	conformOne(t, mart, transform.PatientDimensionSpec, []models.DimensionChange{{
		NaturalKey:      "42",
		Attributes:      map[string]string{"first_name": "Анна", "last_name": "Ким", "age_group": "40-49"},
		SourceTimestamp: run2Time,
	}}, run2Time)
	v2 := mart.CurrentRow(models.DimPatient, "42")
	if v1.SurrogateKey == v2.SurrogateKey {
		t.Fatal("должна появиться вторая версия пациента")
	}

	staging2, err := mart.Begin()
	if err != nil {
		t.Fatalf("подготовленная область: %v", err)
	}
	builder := transform.NewFactBuilder(staging2.Dimensions(), utils.NewETLLogger(false))

	data := &models.ExtractedData{
		BillingTransactions: []models.BillingTransactionOLTP{{
			SourceTransactionID: 1002, LineNumber: 1,
			PatientID: 42, OfficeNum: "OFF-01",
			TransTypeID: models.BillingTransCharge,
			InsDeltaAR:  dec(50),
			// Между run1Time и run2Time: действует первая версия
			TransactionDate: run1Time.Add(6 * time.Hour),
		}},
	}
	result, err := builder.BuildFacts(context.Background(), data)
	if err != nil {
		t.Fatalf("сборка фактов: %v", err)
	}
	if len(result.Facts) != 1 {
		t.Fatalf("ожидалась 1 фактовая строка, получено %d", len(result.Facts))
	}
	if result.Facts[0].PatientKey != v1.SurrogateKey {
		t.Errorf("факт должен ссылаться на версию, действовавшую на дату транзакции: ожидался ключ %d, получен %d",
			v1.SurrogateKey, result.Facts[0].PatientKey)
	}

	// Транзакция раньше первой версии соединяется с первой версией
	data.BillingTransactions[0].TransactionDate = run1Time.Add(-48 * time.Hour)
	result, err = builder.BuildFacts(context.Background(), data)
	if err != nil {
		t.Fatalf("сборка фактов: %v", err)
	}
	if result.Facts[0].PatientKey != v1.SurrogateKey {
		t.Errorf("ранняя транзакция должна соединяться с первой версией, получен ключ %d", result.Facts[0].PatientKey)
	}
}

func TestUnresolvableOfficeRejectsFact(t *testing.T) {
	_, staging := newConformedStaging(t)
	builder := transform.NewFactBuilder(staging.Dimensions(), utils.NewETLLogger(false))

	data := &models.ExtractedData{
		BillingTransactions: []models.BillingTransactionOLTP{{
			SourceTransactionID: 1003, LineNumber: 1,
			PatientID: 42, OfficeNum: "OFF-99",
			TransTypeID: models.BillingTransCharge,
			InsDeltaAR:  dec(25),
			TransactionDate: txDate,
		}},
	}
	result, err := builder.BuildFacts(context.Background(), data)
	if err != nil {
		t.Fatalf("сборка фактов: %v", err)
	}
	if len(result.Facts) != 0 {
		t.Errorf("факт с неразрешимым офисом не должен строиться: %+v", result.Facts)
	}
	if len(result.Rejected) != 1 || !strings.Contains(result.Rejected[0].Reason, "офис") {
		t.Errorf("ожидалась отбраковка по офису: %+v", result.Rejected)
	}
}

func TestUnknownTransTypeRejected(t *testing.T) {
	_, staging := newConformedStaging(t)
	builder := transform.NewFactBuilder(staging.Dimensions(), utils.NewETLLogger(false))

	data := &models.ExtractedData{
		BillingTransactions: []models.BillingTransactionOLTP{{
			SourceTransactionID: 1004, LineNumber: 1,
			PatientID: 42, OfficeNum: "OFF-01",
			TransTypeID: 99,
			InsDeltaAR:  dec(25),
			TransactionDate: txDate,
		}},
	}
	result, err := builder.BuildFacts(context.Background(), data)
	if err != nil {
		t.Fatalf("сборка фактов: %v", err)
	}
	if len(result.Facts) != 0 {
		t.Errorf("событие неизвестного типа не должно порождать факт: %+v", result.Facts)
	}
	if len(result.Rejected) != 1 {
		t.Fatalf("ожидалась 1 отбраковка, получено %d", len(result.Rejected))
	}
	if result.Rejected[0].SourceTransactionID != 1004 {
		t.Errorf("некорректная запись отбраковки: %+v", result.Rejected[0])
	}
}

func TestReprocessedWindowReplacesFacts(t *testing.T) {
	_, staging := newConformedStaging(t)
	builder := transform.NewFactBuilder(staging.Dimensions(), utils.NewETLLogger(false))

	data := &models.ExtractedData{
		BillingTransactions: []models.BillingTransactionOLTP{{
			SourceTransactionID: 1005, LineNumber: 1,
			PatientID: 42, OfficeNum: "OFF-01",
			TransTypeID: models.BillingTransCharge,
			InsDeltaAR:  dec(40),
			TransactionDate: txDate,
		}},
	}

	result, err := builder.BuildFacts(context.Background(), data)
	if err != nil {
		t.Fatalf("сборка фактов: %v", err)
	}
	if err := staging.Facts().UpsertFacts(result.Facts); err != nil {
		t.Fatalf("загрузка фактов: %v", err)
	}

	// Повторная сборка идет по полной истории строки (начисление плюс
	// поздний платеж) и замещает строку целиком
	data.BillingTransactions = append(data.BillingTransactions, models.BillingTransactionOLTP{
		SourceTransactionID: 1005, LineNumber: 1,
		PatientID: 42, OfficeNum: "OFF-01",
		TransTypeID: models.BillingTransInsPayment,
		InsDeltaAR:  dec(-40),
		TransactionDate: txDate.Add(time.Hour),
	})
	result, err = builder.BuildFacts(context.Background(), data)
	if err != nil {
		t.Fatalf("повторная сборка фактов: %v", err)
	}
	if err := staging.Facts().UpsertFacts(result.Facts); err != nil {
		t.Fatalf("повторная загрузка фактов: %v", err)
	}

	totals, err := staging.Facts().StagedTotals()
	if err != nil {
		t.Fatalf("контрольные суммы: %v", err)
	}
	if totals.TransactionLineCount != 1 {
		t.Errorf("повторная загрузка должна замещать, а не дублировать: строк %d", totals.TransactionLineCount)
	}
	if !totals.TotalCollections.Equal(dec(40)) {
		t.Errorf("замещенная строка должна нести новые меры: собрано %s", totals.TotalCollections)
	}
	if !totals.TotalBilled.Equal(dec(40)) {
		t.Errorf("начисление прежнего окна должно сохраниться в замещенной строке: %s", totals.TotalBilled)
	}
}
