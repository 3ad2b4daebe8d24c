package load

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/optiflow/eyecare_datamart/models"
	"github.com/optiflow/eyecare_datamart/utils"
)

// MySQLFactStore реализует хранилище фактов над stg_fact_revenue_transactions
type MySQLFactStore struct {
	db     *sql.DB
	logger *utils.ETLLogger
}

// NewMySQLFactStore создает новый экземпляр MySQLFactStore
func NewMySQLFactStore(db *sql.DB, logger *utils.ETLLogger) *MySQLFactStore {
	return &MySQLFactStore{
		db:     db,
		logger: logger,
	}
}

// UpsertFacts загружает фактовые строки в подготовленную область.
// Существующая строка той же грануляции замещается целиком.
func (s *MySQLFactStore) UpsertFacts(facts []models.RevenueFact) error {
	if len(facts) == 0 {
		return nil
	}
	startTime := time.Now()

	query := `
		INSERT INTO stg_fact_revenue_transactions
			(source_transaction_id, line_number, source, order_num,
			 date_key, office_key, patient_key, insurance_plan_key,
			 employee_key, item_type_key,
			 billed_amount, insurance_ar, insurance_payment, patient_payment,
			 adjustment, refund_adjustment, writeoff_all, collections,
			 insurance_balance, patient_balance, transaction_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			source = VALUES(source),
			order_num = VALUES(order_num),
			date_key = VALUES(date_key),
			office_key = VALUES(office_key),
			patient_key = VALUES(patient_key),
			insurance_plan_key = VALUES(insurance_plan_key),
			employee_key = VALUES(employee_key),
			item_type_key = VALUES(item_type_key),
			billed_amount = VALUES(billed_amount),
			insurance_ar = VALUES(insurance_ar),
			insurance_payment = VALUES(insurance_payment),
			patient_payment = VALUES(patient_payment),
			adjustment = VALUES(adjustment),
			refund_adjustment = VALUES(refund_adjustment),
			writeoff_all = VALUES(writeoff_all),
			collections = VALUES(collections),
			insurance_balance = VALUES(insurance_balance),
			patient_balance = VALUES(patient_balance),
			transaction_date = VALUES(transaction_date)
	`
	stmt, err := s.db.Prepare(query)
	if err != nil {
		return fmt.Errorf("ошибка при подготовке запроса загрузки фактов: %w", err)
	}
	defer stmt.Close()

	for _, fact := range facts {
		_, err := stmt.Exec(
			fact.SourceTransactionID, fact.LineNumber, fact.Source, fact.OrderNum,
			fact.DateKey, fact.OfficeKey, fact.PatientKey, fact.InsurancePlanKey,
			fact.EmployeeKey, fact.ItemTypeKey,
			fact.BilledAmount, fact.InsuranceAR, fact.InsurancePayment, fact.PatientPayment,
			fact.Adjustment, fact.RefundAdjustment, fact.WriteoffAll, fact.Collections,
			fact.InsuranceBalance, fact.PatientBalance, fact.TransactionDate,
		)
		if err != nil {
			return fmt.Errorf("ошибка при загрузке факта %d/%d: %w",
				fact.SourceTransactionID, fact.LineNumber, err)
		}
	}

	s.logger.Debug("Загружено %d фактовых строк за %v", len(facts), time.Since(startTime))
	return nil
}

// StagedTotals возвращает контрольные суммы подготовленной фактовой таблицы
func (s *MySQLFactStore) StagedTotals() (*models.ControlTotals, error) {
	query := `
		SELECT COUNT(*), IFNULL(SUM(billed_amount), 0), IFNULL(SUM(collections), 0)
		FROM stg_fact_revenue_transactions
	`

	var totals models.ControlTotals
	err := s.db.QueryRow(query).Scan(
		&totals.TransactionLineCount, &totals.TotalBilled, &totals.TotalCollections,
	)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("ошибка при расчете контрольных сумм фактов: %w", err)
	}
	return &totals, nil
}
