package extractors

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/optiflow/eyecare_datamart/models"
	"github.com/optiflow/eyecare_datamart/utils"
)

// Extractor координирует процесс извлечения данных из исходной БД.
// Извлечение ограничено окном водяного знака [low, high) по колонке
// last_modified и не имеет побочных эффектов, поэтому повторный вызов
// с тем же (или пересекающимся) окном безопасен.
type Extractor struct {
	db                 *sql.DB
	logger             *utils.ETLLogger
	batchSize          int
	patientExtractor   *PatientExtractor
	officeExtractor    *OfficeExtractor
	insuranceExtractor *InsuranceExtractor
	orderExtractor     *OrderExtractor
	billingExtractor   *BillingExtractor
}

// NewExtractor создает новый экземпляр Extractor
func NewExtractor(db *sql.DB, logger *utils.ETLLogger, batchSize int) *Extractor {
	return &Extractor{
		db:                 db,
		logger:             logger,
		batchSize:          batchSize,
		patientExtractor:   NewPatientExtractor(db, logger),
		officeExtractor:    NewOfficeExtractor(db, logger),
		insuranceExtractor: NewInsuranceExtractor(db, logger),
		orderExtractor:     NewOrderExtractor(db, logger),
		billingExtractor:   NewBillingExtractor(db, logger),
	}
}

// Extract выполняет извлечение всех исходных сущностей за окно [low, high).
// Недоступность любой обязательной сущности фатальна для запуска:
// частично извлеченные данные не используются. Между сущностями
// проверяется отмена контекста.
func (e *Extractor) Extract(ctx context.Context, low, high time.Time) (*models.ExtractedData, error) {
	startTime := time.Now()
	e.logger.LogExtractStart(low, high)

	data := &models.ExtractedData{
		WindowLow:  low,
		WindowHigh: high,
	}
	var err error

	// Извлекаем пациентов
	if err = ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrRunCancelled, err)
	}
	data.Patients, err = e.patientExtractor.ExtractPatients(low, high, e.batchSize)
	if err != nil {
		return nil, fmt.Errorf("%w: пациенты: %v", models.ErrSourceUnavailable, err)
	}

	// Извлекаем офисы и сотрудников
	if err = ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrRunCancelled, err)
	}
	data.Offices, err = e.officeExtractor.ExtractOffices(low, high, e.batchSize)
	if err != nil {
		return nil, fmt.Errorf("%w: офисы: %v", models.ErrSourceUnavailable, err)
	}
	data.Employees, err = e.officeExtractor.ExtractEmployees(low, high, e.batchSize)
	if err != nil {
		return nil, fmt.Errorf("%w: сотрудники: %v", models.ErrSourceUnavailable, err)
	}

	// Извлекаем страховые планы
	if err = ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrRunCancelled, err)
	}
	data.InsurancePlans, err = e.insuranceExtractor.ExtractInsurancePlans(low, high, e.batchSize)
	if err != nil {
		return nil, fmt.Errorf("%w: страховые планы: %v", models.ErrSourceUnavailable, err)
	}

	// Извлекаем заказы и строки заказов
	if err = ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrRunCancelled, err)
	}
	data.Orders, err = e.orderExtractor.ExtractOrders(low, high, e.batchSize)
	if err != nil {
		return nil, fmt.Errorf("%w: заказы: %v", models.ErrSourceUnavailable, err)
	}
	data.OrderItems, err = e.orderExtractor.ExtractOrderItems(low, high, e.batchSize)
	if err != nil {
		return nil, fmt.Errorf("%w: строки заказов: %v", models.ErrSourceUnavailable, err)
	}

	// Извлекаем события биллинга и POS. Окно определяет затронутые строки
	// транзакций; меры строки пересобираются с нуля, поэтому по каждой
	// затронутой строке дотягивается полная история ее событий, включая
	// события прежних окон.
	if err = ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrRunCancelled, err)
	}
	windowBilling, err := e.billingExtractor.ExtractBillingTransactions(low, high, e.batchSize)
	if err != nil {
		return nil, fmt.Errorf("%w: транзакции биллинга: %v", models.ErrSourceUnavailable, err)
	}
	data.BillingTransactions, err = e.billingExtractor.ExtractBillingLineHistory(models.BillingLineKeys(windowBilling), high)
	if err != nil {
		return nil, fmt.Errorf("%w: история строк биллинга: %v", models.ErrSourceUnavailable, err)
	}
	windowPOS, err := e.billingExtractor.ExtractPOSTransactions(low, high, e.batchSize)
	if err != nil {
		return nil, fmt.Errorf("%w: POS-транзакции: %v", models.ErrSourceUnavailable, err)
	}
	data.POSTransactions, err = e.billingExtractor.ExtractPOSLineHistory(models.POSLineKeys(windowPOS), high)
	if err != nil {
		return nil, fmt.Errorf("%w: история строк POS: %v", models.ErrSourceUnavailable, err)
	}

	e.logger.LogExtractComplete(data.TotalSourceRows(), time.Since(startTime))
	return data, nil
}
