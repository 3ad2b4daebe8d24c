package reconcile

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/optiflow/eyecare_datamart/models"
	"github.com/optiflow/eyecare_datamart/utils"
)

type stubTotals struct {
	totals *models.ControlTotals
	err    error
}

func (s *stubTotals) SourceTotals(upTo time.Time) (*models.ControlTotals, error) {
	return s.totals, s.err
}

func TestCompareWithinTolerance(t *testing.T) {
	source := &models.ControlTotals{
		TransactionLineCount: 1000,
		TotalBilled:          decimal.NewFromInt(100000),
		TotalCollections:     decimal.NewFromInt(70000),
	}
	fact := &models.ControlTotals{
		TransactionLineCount: 1000,
		TotalBilled:          decimal.NewFromFloat(100050), // 0.05% расхождения
		TotalCollections:     decimal.NewFromInt(70000),
	}

	deltas, passed := Compare(source, fact, 0.001)
	if !passed {
		t.Errorf("расхождение в пределах допуска должно проходить: %+v", deltas)
	}
	if len(deltas) != 3 {
		t.Fatalf("ожидалось 3 метрики, получено %d", len(deltas))
	}
	for _, delta := range deltas {
		if !delta.WithinTolerance {
			t.Errorf("метрика %s вне допуска: %+v", delta.Metric, delta)
		}
	}
}

func TestCompareMismatchReportsDrift(t *testing.T) {
	source := &models.ControlTotals{
		TransactionLineCount: 1000,
		TotalBilled:          decimal.NewFromInt(100000),
		TotalCollections:     decimal.NewFromInt(70000),
	}
	fact := &models.ControlTotals{
		TransactionLineCount: 990, // потеряно 1% строк
		TotalBilled:          decimal.NewFromInt(100000),
		TotalCollections:     decimal.NewFromInt(70000),
	}

	deltas, passed := Compare(source, fact, 0.001)
	if passed {
		t.Error("потеря строк сверх допуска должна обнаруживаться")
	}

	var drifted *models.ReconciliationDelta
	for i := range deltas {
		if !deltas[i].WithinTolerance {
			drifted = &deltas[i]
		}
	}
	if drifted == nil || drifted.Metric != "transaction_line_count" {
		t.Fatalf("ожидалось расхождение по количеству строк: %+v", deltas)
	}
	if drifted.SourceValue != "1000" || drifted.FactValue != "990" {
		t.Errorf("детали расхождения должны нести обе величины: %+v", drifted)
	}
}

func TestCompareZeroSource(t *testing.T) {
	zero := &models.ControlTotals{}

	// Пустое окно против пустых фактов - совпадение
	if _, passed := Compare(zero, &models.ControlTotals{}, 0.001); !passed {
		t.Error("пустые контрольные суммы должны совпадать")
	}

	// Факты при пустом источнике - полное расхождение
	fact := &models.ControlTotals{TransactionLineCount: 5}
	if _, passed := Compare(zero, fact, 0.001); passed {
		t.Error("факты при пустом источнике должны давать расхождение")
	}
}

func TestReconcileReturnsMismatchError(t *testing.T) {
	source := &stubTotals{totals: &models.ControlTotals{
		TransactionLineCount: 10,
		TotalBilled:          decimal.NewFromInt(500),
	}}
	reconciler := NewReconciler(source, utils.NewETLLogger(false), 0.001)

	factTotals := &models.ControlTotals{
		TransactionLineCount: 10,
		TotalBilled:          decimal.NewFromInt(400),
	}
	deltas, err := reconciler.Reconcile(time.Now(), factTotals)
	if !errors.Is(err, models.ErrReconciliationMismatch) {
		t.Fatalf("ожидалась ошибка сверки, получено %v", err)
	}
	if len(deltas) == 0 {
		t.Error("детали расхождений должны возвращаться и при неуспехе")
	}

	// Совпадающие суммы проходят без ошибки
	deltas, err = reconciler.Reconcile(time.Now(), source.totals)
	if err != nil {
		t.Fatalf("совпадающие суммы должны проходить: %v", err)
	}
	if len(deltas) != 3 {
		t.Errorf("ожидалось 3 метрики, получено %d", len(deltas))
	}
}
