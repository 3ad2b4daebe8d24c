package reconcile

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/optiflow/eyecare_datamart/models"
	"github.com/optiflow/eyecare_datamart/utils"
)

// SourceTotalsReader считает контрольные суммы напрямую по источнику.
// Расчет намеренно идет независимым путем (агрегация в SQL), а не через
// код сборки фактов: общая ошибка в обоих путях не была бы обнаружена.
type SourceTotalsReader interface {
	SourceTotals(upTo time.Time) (*models.ControlTotals, error)
}

// Reconciler сверяет контрольные суммы построенных фактов с источником
type Reconciler struct {
	source    SourceTotalsReader
	logger    *utils.ETLLogger
	tolerance float64
}

// NewReconciler создает новый экземпляр Reconciler
func NewReconciler(source SourceTotalsReader, logger *utils.ETLLogger, tolerance float64) *Reconciler {
	return &Reconciler{
		source:    source,
		logger:    logger,
		tolerance: tolerance,
	}
}

// Reconcile сверяет подготовленные факты с источником по состоянию на
// верхнюю границу окна. Расхождение любой метрики сверх допуска делает
// запуск неуспешным; детали всех метрик возвращаются в любом случае.
func (r *Reconciler) Reconcile(upTo time.Time, factTotals *models.ControlTotals) ([]models.ReconciliationDelta, error) {
	sourceTotals, err := r.source.SourceTotals(upTo)
	if err != nil {
		return nil, fmt.Errorf("%w: контрольные суммы источника: %v", models.ErrSourceUnavailable, err)
	}

	deltas, passed := Compare(sourceTotals, factTotals, r.tolerance)
	r.logger.LogReconcileOutcome(passed, len(deltas))
	for _, delta := range deltas {
		if !delta.WithinTolerance {
			r.logger.Error("Расхождение метрики %s: источник %s, факты %s (отн. %.6f)",
				delta.Metric, delta.SourceValue, delta.FactValue, delta.RelativeDiff)
		}
	}

	if !passed {
		return deltas, models.ErrReconciliationMismatch
	}
	return deltas, nil
}

// Compare сравнивает контрольные суммы с относительным допуском
func Compare(source, fact *models.ControlTotals, tolerance float64) ([]models.ReconciliationDelta, bool) {
	metrics := []struct {
		name   string
		source decimal.Decimal
		fact   decimal.Decimal
	}{
		{"transaction_line_count",
			decimal.NewFromInt(source.TransactionLineCount),
			decimal.NewFromInt(fact.TransactionLineCount)},
		{"total_billed", source.TotalBilled, fact.TotalBilled},
		{"total_collections", source.TotalCollections, fact.TotalCollections},
	}

	deltas := make([]models.ReconciliationDelta, 0, len(metrics))
	passed := true
	for _, metric := range metrics {
		relDiff := relativeDiff(metric.source, metric.fact)
		within := relDiff <= tolerance
		if !within {
			passed = false
		}
		deltas = append(deltas, models.ReconciliationDelta{
			Metric:          metric.name,
			SourceValue:     metric.source.String(),
			FactValue:       metric.fact.String(),
			RelativeDiff:    relDiff,
			WithinTolerance: within,
		})
	}
	return deltas, passed
}

// relativeDiff возвращает относительное расхождение двух величин.
// Нулевой знаменатель: совпадающие нули дают 0, любое отклонение от
// нулевого эталона считается полным расхождением.
func relativeDiff(source, fact decimal.Decimal) float64 {
	diff := source.Sub(fact).Abs()
	if source.IsZero() {
		if diff.IsZero() {
			return 0
		}
		return 1
	}
	rel, _ := diff.Div(source.Abs()).Float64()
	return rel
}
