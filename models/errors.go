package models

import (
	"errors"
	"fmt"
)

// Классификация ошибок процесса сборки датамарта.
// Построчные ошибки накапливаются и суммируются; ошибки уровня запуска
// прерывают весь запуск и фиксируются в журнале с деталями.
var (
	// ErrSourceUnavailable - исходная сущность недоступна; фатально для запуска
	ErrSourceUnavailable = errors.New("источник данных недоступен")

	// ErrUnresolvableDimensionRow - строка измерения с неразрешимыми
	// обязательными атрибутами; отбраковывается, запуск продолжается
	ErrUnresolvableDimensionRow = errors.New("неразрешимая строка измерения")

	// ErrRejectionThresholdExceeded - доля отбракованных строк превысила порог
	ErrRejectionThresholdExceeded = errors.New("превышен порог отбраковки строк")

	// ErrReconciliationMismatch - контрольные суммы разошлись сверх допуска
	ErrReconciliationMismatch = errors.New("сверка контрольных сумм не прошла")

	// ErrConcurrentRunConflict - по данной грануляции уже выполняется запуск
	ErrConcurrentRunConflict = errors.New("запуск по данной грануляции уже выполняется")

	// ErrRunCancelled - запуск отменен оператором между этапами
	ErrRunCancelled = errors.New("запуск отменен")
)

// RejectedRow описывает отбракованную строку источника
type RejectedRow struct {
	Entity              string `json:"entity"`
	NaturalKey          string `json:"natural_key,omitempty"`
	SourceTransactionID int64  `json:"source_transaction_id,omitempty"`
	LineNumber          int    `json:"line_number,omitempty"`
	Reason              string `json:"reason"`
}

func (r RejectedRow) String() string {
	if r.NaturalKey != "" {
		return fmt.Sprintf("%s[%s]: %s", r.Entity, r.NaturalKey, r.Reason)
	}
	return fmt.Sprintf("%s[%d/%d]: %s", r.Entity, r.SourceTransactionID, r.LineNumber, r.Reason)
}

// ReconciliationDelta описывает расхождение одной контрольной метрики
type ReconciliationDelta struct {
	Metric          string  `json:"metric"`
	SourceValue     string  `json:"source_value"`
	FactValue       string  `json:"fact_value"`
	RelativeDiff    float64 `json:"relative_diff"`
	WithinTolerance bool    `json:"within_tolerance"`
}
