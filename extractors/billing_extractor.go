package extractors

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/optiflow/eyecare_datamart/models"
	"github.com/optiflow/eyecare_datamart/utils"
)

// Размер порции ключей в условии IN при дотягивании истории строк
const lineHistoryChunkSize = 500

// BillingExtractor извлекает финансовые события (биллинг и POS) из исходной БД
type BillingExtractor struct {
	db     *sql.DB
	logger *utils.ETLLogger
}

// NewBillingExtractor создает новый экземпляр BillingExtractor
func NewBillingExtractor(db *sql.DB, logger *utils.ETLLogger) *BillingExtractor {
	return &BillingExtractor{
		db:     db,
		logger: logger,
	}
}

// ExtractBillingTransactions извлекает события биллинга, измененные в окне [low, high).
// Каждое событие несет дельты дебиторской задолженности по страховой
// и пациентской стороне (отрицательные для платежей и списаний).
func (e *BillingExtractor) ExtractBillingTransactions(low, high time.Time, batchSize int) ([]models.BillingTransactionOLTP, error) {
	e.logger.Debug("Начало извлечения транзакций биллинга (окно: [%v, %v))", low, high)

	query := `
		SELECT event_id, source_transaction_id, line_number, order_num,
		       patient_id, IFNULL(office_num, ''), IFNULL(insurance_plan_id, 0),
		       IFNULL(employee_id, 0), IFNULL(item_type_id, 0), trans_type_id,
		       IFNULL(adjustment_reason_id, 0),
		       IFNULL(ins_delta_ar, 0), IFNULL(pat_delta_ar, 0),
		       transaction_date, last_modified, seq_num
		FROM billing_transactions
		WHERE last_modified >= ? AND last_modified < ?
		ORDER BY seq_num
		LIMIT ?
	`

	rows, err := e.db.Query(query, low, high, batchSize)
	if err != nil {
		e.logger.Error("Ошибка при извлечении транзакций биллинга: %v", err)
		return nil, fmt.Errorf("ошибка запроса транзакций биллинга: %w", err)
	}
	defer rows.Close()

	var transactions []models.BillingTransactionOLTP
	for rows.Next() {
		var trans models.BillingTransactionOLTP
		if err := rows.Scan(
			&trans.EventID, &trans.SourceTransactionID, &trans.LineNumber,
			&trans.OrderNum, &trans.PatientID, &trans.OfficeNum,
			&trans.InsurancePlanID, &trans.EmployeeID, &trans.ItemTypeID,
			&trans.TransTypeID, &trans.AdjustmentReasonID,
			&trans.InsDeltaAR, &trans.PatDeltaAR,
			&trans.TransactionDate, &trans.LastModified, &trans.SeqNum,
		); err != nil {
			e.logger.Error("Ошибка при обработке транзакции биллинга: %v", err)
			return nil, fmt.Errorf("ошибка обработки транзакции биллинга: %w", err)
		}
		transactions = append(transactions, trans)
	}

	if err = rows.Err(); err != nil {
		e.logger.Error("Ошибка после итерации по транзакциям биллинга: %v", err)
		return nil, fmt.Errorf("ошибка после итерации по транзакциям биллинга: %w", err)
	}

	e.logger.Debug("Извлечено %d транзакций биллинга", len(transactions))
	return transactions, nil
}

// ExtractBillingLineHistory извлекает все события биллинга по указанным
// строкам транзакций с last_modified до high. Меры строки пересобираются
// из всех ее событий, поэтому окна недостаточно: платеж или корректировка
// может прийти в более позднем окне, чем начисление той же строки.
func (e *BillingExtractor) ExtractBillingLineHistory(keys []models.FactLineKey, high time.Time) ([]models.BillingTransactionOLTP, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	e.logger.Debug("Начало извлечения истории событий %d строк биллинга (до %v)", len(keys), high)

	var history []models.BillingTransactionOLTP
	for start := 0; start < len(keys); start += lineHistoryChunkSize {
		end := start + lineHistoryChunkSize
		if end > len(keys) {
			end = len(keys)
		}
		chunk, err := e.queryBillingLineChunk(keys[start:end], high)
		if err != nil {
			return nil, err
		}
		history = append(history, chunk...)
	}

	e.logger.Debug("Извлечено %d событий истории биллинга", len(history))
	return history, nil
}

func (e *BillingExtractor) queryBillingLineChunk(keys []models.FactLineKey, high time.Time) ([]models.BillingTransactionOLTP, error) {
	query := fmt.Sprintf(`
		SELECT event_id, source_transaction_id, line_number, order_num,
		       patient_id, IFNULL(office_num, ''), IFNULL(insurance_plan_id, 0),
		       IFNULL(employee_id, 0), IFNULL(item_type_id, 0), trans_type_id,
		       IFNULL(adjustment_reason_id, 0),
		       IFNULL(ins_delta_ar, 0), IFNULL(pat_delta_ar, 0),
		       transaction_date, last_modified, seq_num
		FROM billing_transactions
		WHERE (source_transaction_id, line_number) IN (%s) AND last_modified < ?
		ORDER BY seq_num
	`, linePlaceholders(len(keys)))

	rows, err := e.db.Query(query, lineArgs(keys, high)...)
	if err != nil {
		e.logger.Error("Ошибка при извлечении истории строк биллинга: %v", err)
		return nil, fmt.Errorf("ошибка запроса истории строк биллинга: %w", err)
	}
	defer rows.Close()

	var transactions []models.BillingTransactionOLTP
	for rows.Next() {
		var trans models.BillingTransactionOLTP
		if err := rows.Scan(
			&trans.EventID, &trans.SourceTransactionID, &trans.LineNumber,
			&trans.OrderNum, &trans.PatientID, &trans.OfficeNum,
			&trans.InsurancePlanID, &trans.EmployeeID, &trans.ItemTypeID,
			&trans.TransTypeID, &trans.AdjustmentReasonID,
			&trans.InsDeltaAR, &trans.PatDeltaAR,
			&trans.TransactionDate, &trans.LastModified, &trans.SeqNum,
		); err != nil {
			e.logger.Error("Ошибка при обработке события истории биллинга: %v", err)
			return nil, fmt.Errorf("ошибка обработки события истории биллинга: %w", err)
		}
		transactions = append(transactions, trans)
	}

	if err = rows.Err(); err != nil {
		e.logger.Error("Ошибка после итерации по истории строк биллинга: %v", err)
		return nil, fmt.Errorf("ошибка после итерации по истории строк биллинга: %w", err)
	}
	return transactions, nil
}

// ExtractPOSTransactions извлекает POS-события, измененные в окне [low, high).
// POS-события всегда относятся к пациентской стороне баланса.
func (e *BillingExtractor) ExtractPOSTransactions(low, high time.Time, batchSize int) ([]models.POSTransactionOLTP, error) {
	e.logger.Debug("Начало извлечения POS-транзакций (окно: [%v, %v))", low, high)

	query := `
		SELECT event_id, source_transaction_id, line_number, order_num,
		       patient_id, IFNULL(office_num, ''), IFNULL(employee_id, 0),
		       IFNULL(item_type_id, 0), transaction_type_id,
		       IFNULL(amount, 0),
		       transaction_date, last_modified, seq_num
		FROM pos_transactions
		WHERE last_modified >= ? AND last_modified < ?
		ORDER BY seq_num
		LIMIT ?
	`

	rows, err := e.db.Query(query, low, high, batchSize)
	if err != nil {
		e.logger.Error("Ошибка при извлечении POS-транзакций: %v", err)
		return nil, fmt.Errorf("ошибка запроса POS-транзакций: %w", err)
	}
	defer rows.Close()

	var transactions []models.POSTransactionOLTP
	for rows.Next() {
		var trans models.POSTransactionOLTP
		if err := rows.Scan(
			&trans.EventID, &trans.SourceTransactionID, &trans.LineNumber,
			&trans.OrderNum, &trans.PatientID, &trans.OfficeNum,
			&trans.EmployeeID, &trans.ItemTypeID, &trans.TransactionTypeID,
			&trans.Amount,
			&trans.TransactionDate, &trans.LastModified, &trans.SeqNum,
		); err != nil {
			e.logger.Error("Ошибка при обработке POS-транзакции: %v", err)
			return nil, fmt.Errorf("ошибка обработки POS-транзакции: %w", err)
		}
		transactions = append(transactions, trans)
	}

	if err = rows.Err(); err != nil {
		e.logger.Error("Ошибка после итерации по POS-транзакциям: %v", err)
		return nil, fmt.Errorf("ошибка после итерации по POS-транзакциям: %w", err)
	}

	e.logger.Debug("Извлечено %d POS-транзакций", len(transactions))
	return transactions, nil
}

// ExtractPOSLineHistory извлекает все POS-события по указанным строкам
// транзакций с last_modified до high
func (e *BillingExtractor) ExtractPOSLineHistory(keys []models.FactLineKey, high time.Time) ([]models.POSTransactionOLTP, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	e.logger.Debug("Начало извлечения истории событий %d строк POS (до %v)", len(keys), high)

	var history []models.POSTransactionOLTP
	for start := 0; start < len(keys); start += lineHistoryChunkSize {
		end := start + lineHistoryChunkSize
		if end > len(keys) {
			end = len(keys)
		}
		chunk, err := e.queryPOSLineChunk(keys[start:end], high)
		if err != nil {
			return nil, err
		}
		history = append(history, chunk...)
	}

	e.logger.Debug("Извлечено %d событий истории POS", len(history))
	return history, nil
}

func (e *BillingExtractor) queryPOSLineChunk(keys []models.FactLineKey, high time.Time) ([]models.POSTransactionOLTP, error) {
	query := fmt.Sprintf(`
		SELECT event_id, source_transaction_id, line_number, order_num,
		       patient_id, IFNULL(office_num, ''), IFNULL(employee_id, 0),
		       IFNULL(item_type_id, 0), transaction_type_id,
		       IFNULL(amount, 0),
		       transaction_date, last_modified, seq_num
		FROM pos_transactions
		WHERE (source_transaction_id, line_number) IN (%s) AND last_modified < ?
		ORDER BY seq_num
	`, linePlaceholders(len(keys)))

	rows, err := e.db.Query(query, lineArgs(keys, high)...)
	if err != nil {
		e.logger.Error("Ошибка при извлечении истории строк POS: %v", err)
		return nil, fmt.Errorf("ошибка запроса истории строк POS: %w", err)
	}
	defer rows.Close()

	var transactions []models.POSTransactionOLTP
	for rows.Next() {
		var trans models.POSTransactionOLTP
		if err := rows.Scan(
			&trans.EventID, &trans.SourceTransactionID, &trans.LineNumber,
			&trans.OrderNum, &trans.PatientID, &trans.OfficeNum,
			&trans.EmployeeID, &trans.ItemTypeID, &trans.TransactionTypeID,
			&trans.Amount,
			&trans.TransactionDate, &trans.LastModified, &trans.SeqNum,
		); err != nil {
			e.logger.Error("Ошибка при обработке события истории POS: %v", err)
			return nil, fmt.Errorf("ошибка обработки события истории POS: %w", err)
		}
		transactions = append(transactions, trans)
	}

	if err = rows.Err(); err != nil {
		e.logger.Error("Ошибка после итерации по истории строк POS: %v", err)
		return nil, fmt.Errorf("ошибка после итерации по истории строк POS: %w", err)
	}
	return transactions, nil
}

// linePlaceholders строит список пар-плейсхолдеров для условия IN по
// составному ключу (source_transaction_id, line_number)
func linePlaceholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("(?, ?), ", n), ", ")
}

func lineArgs(keys []models.FactLineKey, high time.Time) []interface{} {
	args := make([]interface{}, 0, len(keys)*2+1)
	for _, key := range keys {
		args = append(args, key.SourceTransactionID, key.LineNumber)
	}
	return append(args, high)
}
