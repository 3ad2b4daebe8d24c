package reconcile

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/optiflow/eyecare_datamart/models"
	"github.com/optiflow/eyecare_datamart/utils"
)

// MySQLSourceTotals считает контрольные суммы по исходной БД агрегацией в SQL
type MySQLSourceTotals struct {
	db     *sql.DB
	logger *utils.ETLLogger
}

// NewMySQLSourceTotals создает новый экземпляр MySQLSourceTotals
func NewMySQLSourceTotals(db *sql.DB, logger *utils.ETLLogger) *MySQLSourceTotals {
	return &MySQLSourceTotals{
		db:     db,
		logger: logger,
	}
}

// SourceTotals возвращает контрольные суммы источника по всем событиям
// с last_modified < upTo: количество строк транзакций, сумму начислений
// и сумму собранных платежей
func (s *MySQLSourceTotals) SourceTotals(upTo time.Time) (*models.ControlTotals, error) {
	totals := &models.ControlTotals{}

	billingQuery := `
		SELECT COUNT(DISTINCT source_transaction_id, line_number),
		       IFNULL(SUM(CASE WHEN trans_type_id IN (1, 16)
		                       THEN ins_delta_ar + pat_delta_ar ELSE 0 END), 0),
		       IFNULL(SUM(CASE WHEN trans_type_id IN (2, 3)
		                       THEN -(ins_delta_ar + pat_delta_ar) ELSE 0 END), 0)
		FROM billing_transactions
		WHERE last_modified < ?
	`
	var billingLines int64
	if err := s.db.QueryRow(billingQuery, upTo).Scan(
		&billingLines, &totals.TotalBilled, &totals.TotalCollections,
	); err != nil {
		return nil, fmt.Errorf("ошибка при расчете контрольных сумм биллинга: %w", err)
	}

	posQuery := `
		SELECT COUNT(DISTINCT source_transaction_id, line_number),
		       IFNULL(SUM(CASE WHEN transaction_type_id = 1 THEN amount ELSE 0 END), 0),
		       IFNULL(SUM(CASE WHEN transaction_type_id IN (2, 4, 13) THEN -amount ELSE 0 END), 0)
		FROM pos_transactions
		WHERE last_modified < ?
	`
	var posLines int64
	var posBilled, posCollected decimal.Decimal
	if err := s.db.QueryRow(posQuery, upTo).Scan(
		&posLines, &posBilled, &posCollected,
	); err != nil {
		return nil, fmt.Errorf("ошибка при расчете контрольных сумм POS: %w", err)
	}

	totals.TransactionLineCount = billingLines + posLines
	totals.TotalBilled = totals.TotalBilled.Add(posBilled)
	totals.TotalCollections = totals.TotalCollections.Add(posCollected)

	s.logger.Debug("Контрольные суммы источника: строк %d, начислено %s, собрано %s",
		totals.TransactionLineCount, totals.TotalBilled, totals.TotalCollections)
	return totals, nil
}
