package models

import (
	"time"
)

// Статусы запуска сборки датамарта
const (
	RunStatusRunning   = "running"
	RunStatusCommitted = "committed"
	RunStatusFailed    = "failed"
)

// FactGrainRevenue - грануляция фактовой таблицы транзакций выручки.
// По одной грануляции одновременно может выполняться не более одного запуска.
const FactGrainRevenue = "revenue_transactions"

// LoadRun представляет запись о запуске сборки датамарта
type LoadRun struct {
	ID            string    `json:"id"`
	Grain         string    `json:"grain"`
	WatermarkLow  time.Time `json:"watermark_low"`
	WatermarkHigh time.Time `json:"watermark_high"`
	Status        string    `json:"status"` // "running", "committed", "failed"
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time,omitempty"`

	SourceRowsExtracted    int `json:"source_rows_extracted"`
	DimensionRowsConformed int `json:"dimension_rows_conformed"`
	FactRowsBuilt          int `json:"fact_rows_built"`
	RejectedRowCount       int `json:"rejected_row_count"`

	ReconciliationDeltas []ReconciliationDelta `json:"reconciliation_deltas,omitempty"`
	FailureReason        string                `json:"failure_reason,omitempty"`
	ExecutionTimeSeconds float64               `json:"execution_time_seconds"`
}

// RunRepository представляет репозиторий для работы с журналом запусков
type RunRepository interface {
	// CreateRunTables создает таблицы журнала запусков, если они не существуют
	CreateRunTables() error

	// ClaimRun атомарно создает запись о новом запуске. Возвращает
	// ErrConcurrentRunConflict, если по грануляции уже есть запуск
	// в статусе running.
	ClaimRun(grain string, low, high, startedAt time.Time) (*LoadRun, error)

	// CompleteRun фиксирует успешное завершение запуска
	CompleteRun(run *LoadRun, endTime time.Time) error

	// FailRun фиксирует неудачное завершение запуска с причиной
	FailRun(run *LoadRun, endTime time.Time, reason string) error

	// LastCommitted возвращает последний зафиксированный запуск по
	// грануляции (nil, если таких нет). Его watermark_high служит
	// нижней границей окна следующего запуска.
	LastCommitted(grain string) (*LoadRun, error)

	// ListRecent возвращает последние запуски по грануляции
	ListRecent(grain string, limit int) ([]LoadRun, error)

	// SaveRejectedRows сохраняет архив отбракованных строк запуска
	SaveRejectedRows(runID string, rows []RejectedRow) error

	// LoadRejectedRows читает архив отбракованных строк запуска
	LoadRejectedRows(runID string) ([]RejectedRow, error)
}
