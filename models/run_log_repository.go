package models

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang/snappy"
	"github.com/google/uuid"
)

// MySQLRunRepository реализация RunRepository для MySQL
type MySQLRunRepository struct {
	db *sql.DB
}

// NewMySQLRunRepository создает новый экземпляр MySQLRunRepository
func NewMySQLRunRepository(db *sql.DB) *MySQLRunRepository {
	return &MySQLRunRepository{
		db: db,
	}
}

// CreateRunTables создает таблицы журнала запусков, если они не существуют
func (r *MySQLRunRepository) CreateRunTables() error {
	runTable := `
	CREATE TABLE IF NOT EXISTS datamart_runs (
		id CHAR(36) PRIMARY KEY,
		grain VARCHAR(64) NOT NULL,
		watermark_low TIMESTAMP NOT NULL,
		watermark_high TIMESTAMP NOT NULL,
		status ENUM('running', 'committed', 'failed') NOT NULL DEFAULT 'running',
		start_time TIMESTAMP NOT NULL,
		end_time TIMESTAMP NULL,
		source_rows_extracted INT DEFAULT 0,
		dimension_rows_conformed INT DEFAULT 0,
		fact_rows_built INT DEFAULT 0,
		rejected_row_count INT DEFAULT 0,
		reconciliation_deltas TEXT,
		failure_reason TEXT,
		execution_time_seconds FLOAT,
		INDEX idx_grain_status (grain, status)
	);
	`

	if _, err := r.db.Exec(runTable); err != nil {
		return fmt.Errorf("ошибка при создании таблицы datamart_runs: %w", err)
	}

	rejectTable := `
	CREATE TABLE IF NOT EXISTS datamart_run_rejects (
		run_id CHAR(36) PRIMARY KEY,
		row_count INT NOT NULL,
		payload LONGBLOB NOT NULL
	);
	`

	if _, err := r.db.Exec(rejectTable); err != nil {
		return fmt.Errorf("ошибка при создании таблицы datamart_run_rejects: %w", err)
	}

	return nil
}

// ClaimRun атомарно создает запись о новом запуске.
// Вставка выполняется только если по грануляции нет запуска в статусе
// running - это и есть эксклюзивная заявка (не более одного активного
// запуска на грануляцию).
func (r *MySQLRunRepository) ClaimRun(grain string, low, high, startedAt time.Time) (*LoadRun, error) {
	runID := uuid.New().String()

	query := `
	INSERT INTO datamart_runs (id, grain, watermark_low, watermark_high, status, start_time)
	SELECT ?, ?, ?, ?, 'running', ?
	FROM DUAL
	WHERE NOT EXISTS (
		SELECT 1 FROM datamart_runs WHERE grain = ? AND status = 'running'
	)
	`

	result, err := r.db.Exec(query, runID, grain, low, high, startedAt, grain)
	if err != nil {
		return nil, fmt.Errorf("ошибка при создании записи о запуске: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("ошибка при проверке заявки на запуск: %w", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("%w: грануляция %s", ErrConcurrentRunConflict, grain)
	}

	return &LoadRun{
		ID:            runID,
		Grain:         grain,
		WatermarkLow:  low,
		WatermarkHigh: high,
		Status:        RunStatusRunning,
		StartTime:     startedAt,
	}, nil
}

// CompleteRun фиксирует успешное завершение запуска
func (r *MySQLRunRepository) CompleteRun(run *LoadRun, endTime time.Time) error {
	deltasJSON, err := json.Marshal(run.ReconciliationDeltas)
	if err != nil {
		return fmt.Errorf("ошибка при сериализации расхождений сверки: %w", err)
	}

	query := `
	UPDATE datamart_runs
	SET
		status = 'committed',
		end_time = ?,
		source_rows_extracted = ?,
		dimension_rows_conformed = ?,
		fact_rows_built = ?,
		rejected_row_count = ?,
		reconciliation_deltas = ?,
		execution_time_seconds = ?
	WHERE id = ?
	`

	executionTime := endTime.Sub(run.StartTime).Seconds()
	_, err = r.db.Exec(query, endTime,
		run.SourceRowsExtracted, run.DimensionRowsConformed,
		run.FactRowsBuilt, run.RejectedRowCount,
		string(deltasJSON), executionTime, run.ID)
	if err != nil {
		return fmt.Errorf("ошибка при фиксации запуска %s: %w", run.ID, err)
	}

	run.Status = RunStatusCommitted
	run.EndTime = endTime
	run.ExecutionTimeSeconds = executionTime
	return nil
}

// FailRun фиксирует неудачное завершение запуска с причиной
func (r *MySQLRunRepository) FailRun(run *LoadRun, endTime time.Time, reason string) error {
	deltasJSON, err := json.Marshal(run.ReconciliationDeltas)
	if err != nil {
		return fmt.Errorf("ошибка при сериализации расхождений сверки: %w", err)
	}

	query := `
	UPDATE datamart_runs
	SET
		status = 'failed',
		end_time = ?,
		source_rows_extracted = ?,
		dimension_rows_conformed = ?,
		fact_rows_built = ?,
		rejected_row_count = ?,
		reconciliation_deltas = ?,
		failure_reason = ?,
		execution_time_seconds = ?
	WHERE id = ?
	`

	executionTime := endTime.Sub(run.StartTime).Seconds()
	_, err = r.db.Exec(query, endTime,
		run.SourceRowsExtracted, run.DimensionRowsConformed,
		run.FactRowsBuilt, run.RejectedRowCount,
		string(deltasJSON), reason, executionTime, run.ID)
	if err != nil {
		return fmt.Errorf("ошибка при пометке запуска %s как неудачного: %w", run.ID, err)
	}

	run.Status = RunStatusFailed
	run.EndTime = endTime
	run.FailureReason = reason
	run.ExecutionTimeSeconds = executionTime
	return nil
}

// LastCommitted возвращает последний зафиксированный запуск по грануляции
func (r *MySQLRunRepository) LastCommitted(grain string) (*LoadRun, error) {
	query := `
	SELECT
		id, grain, watermark_low, watermark_high, status, start_time,
		IFNULL(end_time, start_time),
		source_rows_extracted, dimension_rows_conformed, fact_rows_built,
		rejected_row_count, IFNULL(reconciliation_deltas, ''),
		IFNULL(failure_reason, ''), IFNULL(execution_time_seconds, 0)
	FROM datamart_runs
	WHERE grain = ? AND status = 'committed'
	ORDER BY watermark_high DESC
	LIMIT 1
	`

	run, err := r.scanRun(r.db.QueryRow(query, grain))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Еще не было зафиксированных запусков
		}
		return nil, fmt.Errorf("ошибка при получении последнего зафиксированного запуска: %w", err)
	}

	return run, nil
}

// ListRecent возвращает последние запуски по грануляции
func (r *MySQLRunRepository) ListRecent(grain string, limit int) ([]LoadRun, error) {
	query := `
	SELECT
		id, grain, watermark_low, watermark_high, status, start_time,
		IFNULL(end_time, start_time),
		source_rows_extracted, dimension_rows_conformed, fact_rows_built,
		rejected_row_count, IFNULL(reconciliation_deltas, ''),
		IFNULL(failure_reason, ''), IFNULL(execution_time_seconds, 0)
	FROM datamart_runs
	WHERE grain = ?
	ORDER BY start_time DESC
	LIMIT ?
	`

	rows, err := r.db.Query(query, grain, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка при получении списка запусков: %w", err)
	}
	defer rows.Close()

	var runs []LoadRun
	for rows.Next() {
		run, err := r.scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка при сканировании записи о запуске: %w", err)
		}
		runs = append(runs, *run)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка после итерации по записям о запусках: %w", err)
	}

	return runs, nil
}

// SaveRejectedRows сохраняет архив отбракованных строк запуска.
// Архив сжимается snappy, чтобы крупные партии отбраковки не раздували
// журнальную таблицу.
func (r *MySQLRunRepository) SaveRejectedRows(runID string, rejected []RejectedRow) error {
	if len(rejected) == 0 {
		return nil
	}

	payload, err := json.Marshal(rejected)
	if err != nil {
		return fmt.Errorf("ошибка при сериализации отбракованных строк: %w", err)
	}

	compressed := snappy.Encode(nil, payload)

	query := `
	INSERT INTO datamart_run_rejects (run_id, row_count, payload)
	VALUES (?, ?, ?)
	ON DUPLICATE KEY UPDATE row_count = VALUES(row_count), payload = VALUES(payload)
	`

	if _, err := r.db.Exec(query, runID, len(rejected), compressed); err != nil {
		return fmt.Errorf("ошибка при сохранении отбракованных строк запуска %s: %w", runID, err)
	}

	return nil
}

// LoadRejectedRows читает архив отбракованных строк запуска
func (r *MySQLRunRepository) LoadRejectedRows(runID string) ([]RejectedRow, error) {
	var compressed []byte
	err := r.db.QueryRow(
		"SELECT payload FROM datamart_run_rejects WHERE run_id = ?", runID,
	).Scan(&compressed)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("ошибка при чтении отбракованных строк запуска %s: %w", runID, err)
	}

	payload, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, fmt.Errorf("ошибка при распаковке архива отбракованных строк: %w", err)
	}

	var rejected []RejectedRow
	if err := json.Unmarshal(payload, &rejected); err != nil {
		return nil, fmt.Errorf("ошибка при десериализации отбракованных строк: %w", err)
	}

	return rejected, nil
}

// rowScanner обобщает sql.Row и sql.Rows для сканирования записи о запуске
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *MySQLRunRepository) scanRun(row rowScanner) (*LoadRun, error) {
	var run LoadRun
	var deltasJSON string

	err := row.Scan(
		&run.ID, &run.Grain, &run.WatermarkLow, &run.WatermarkHigh,
		&run.Status, &run.StartTime, &run.EndTime,
		&run.SourceRowsExtracted, &run.DimensionRowsConformed,
		&run.FactRowsBuilt, &run.RejectedRowCount,
		&deltasJSON, &run.FailureReason, &run.ExecutionTimeSeconds,
	)
	if err != nil {
		return nil, err
	}

	if deltasJSON != "" && deltasJSON != "null" {
		if err := json.Unmarshal([]byte(deltasJSON), &run.ReconciliationDeltas); err != nil {
			return nil, fmt.Errorf("ошибка при десериализации расхождений сверки: %w", err)
		}
	}

	return &run, nil
}
