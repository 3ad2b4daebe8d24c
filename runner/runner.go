package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/optiflow/eyecare_datamart/load"
	"github.com/optiflow/eyecare_datamart/models"
	"github.com/optiflow/eyecare_datamart/transform"
	"github.com/optiflow/eyecare_datamart/utils"
)

// Нижняя граница окна самого первого запуска
var initialWatermark = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// Extractor представляет фазу извлечения данных источника
type Extractor interface {
	Extract(ctx context.Context, low, high time.Time) (*models.ExtractedData, error)
}

// Reconciler представляет фазу сверки контрольных сумм
type Reconciler interface {
	Reconcile(upTo time.Time, factTotals *models.ControlTotals) ([]models.ReconciliationDelta, error)
}

// Runner координирует запуск сборки датамарта: захват запуска,
// извлечение, конформация измерений, сборка фактов, загрузка в
// подготовленную область, сверка и атомарная фиксация
type Runner struct {
	extractor  Extractor
	stager     load.Stager
	runs       models.RunRepository
	reconciler Reconciler
	logger     *utils.ETLLogger

	workers            int
	rejectionThreshold float64

	// Переопределяется в тестах
	now func() time.Time
}

// NewRunner создает новый экземпляр Runner
func NewRunner(extractor Extractor, stager load.Stager, runs models.RunRepository,
	reconciler Reconciler, logger *utils.ETLLogger, workers int, rejectionThreshold float64) *Runner {
	return &Runner{
		extractor:          extractor,
		stager:             stager,
		runs:               runs,
		reconciler:         reconciler,
		logger:             logger,
		workers:            workers,
		rejectionThreshold: rejectionThreshold,
		now:                time.Now,
	}
}

// RunOnce выполняет один запуск сборки датамарта.
// Окно запуска: [watermark_high последнего зафиксированного запуска, сейчас).
// Водяной знак продвигается только при фиксации: после неуспешного
// запуска следующий обработает то же окно повторно, а идемпотентная
// загрузка фактов делает повтор безопасным.
func (r *Runner) RunOnce(ctx context.Context) (*models.LoadRun, error) {
	startTime := r.now()

	low := initialWatermark
	last, err := r.runs.LastCommitted(models.FactGrainRevenue)
	if err != nil {
		return nil, fmt.Errorf("ошибка при чтении водяного знака: %w", err)
	}
	if last != nil {
		low = last.WatermarkHigh
	}
	high := startTime

	run, err := r.runs.ClaimRun(models.FactGrainRevenue, low, high, startTime)
	if err != nil {
		if errors.Is(err, models.ErrConcurrentRunConflict) {
			r.logger.Info("Запуск пропущен: %v", err)
		}
		return nil, err
	}
	r.logger.LogRunStart(run.ID, low, high)

	// Фаза Extract
	data, err := r.extractor.Extract(ctx, low, high)
	if err != nil {
		return run, r.failRun(run, nil, err)
	}
	run.SourceRowsExtracted = data.TotalSourceRows()

	if err := ctx.Err(); err != nil {
		return run, r.failRun(run, nil, fmt.Errorf("%w: %v", models.ErrRunCancelled, err))
	}

	// Подготовленная область: вся дальнейшая работа идет в копиях таблиц
	staging, err := r.stager.Begin()
	if err != nil {
		return run, r.failRun(run, nil, fmt.Errorf("ошибка при создании подготовленной области: %w", err))
	}

	// Фаза Transform: конформация измерений. Логическое время всех
	// версий запуска - верхняя граница окна.
	transformer := transform.NewTransformer(staging.Dimensions(), r.logger, r.workers)
	conformed, err := transformer.Conform(ctx, data, high)
	if err != nil {
		return run, r.failRun(run, staging, err)
	}
	run.DimensionRowsConformed = conformed.RowsConformed

	if err := staging.EnsureDateDimension(transform.DateRowsFor(data)); err != nil {
		return run, r.failRun(run, staging, err)
	}

	if err := ctx.Err(); err != nil {
		return run, r.failRun(run, staging, fmt.Errorf("%w: %v", models.ErrRunCancelled, err))
	}

	// Сборка фактов
	factBuilder := transform.NewFactBuilder(staging.Dimensions(), r.logger)
	built, err := factBuilder.BuildFacts(ctx, data)
	if err != nil {
		return run, r.failRun(run, staging, err)
	}
	run.FactRowsBuilt = len(built.Facts)

	rejected := append(conformed.Rejected, built.Rejected...)
	run.RejectedRowCount = len(rejected)
	if run.SourceRowsExtracted > 0 {
		share := float64(len(rejected)) / float64(run.SourceRowsExtracted)
		if share > r.rejectionThreshold {
			err := fmt.Errorf("%w: %.4f > %.4f", models.ErrRejectionThresholdExceeded, share, r.rejectionThreshold)
			return run, r.failRun(run, staging, err)
		}
	}

	if err := staging.Facts().UpsertFacts(built.Facts); err != nil {
		return run, r.failRun(run, staging, err)
	}

	if err := ctx.Err(); err != nil {
		return run, r.failRun(run, staging, fmt.Errorf("%w: %v", models.ErrRunCancelled, err))
	}

	// Сверка контрольных сумм до фиксации
	factTotals, err := staging.Facts().StagedTotals()
	if err != nil {
		return run, r.failRun(run, staging, err)
	}
	deltas, err := r.reconciler.Reconcile(high, factTotals)
	run.ReconciliationDeltas = deltas
	if err != nil {
		return run, r.failRun(run, staging, err)
	}

	// Атомарная фиксация
	if err := staging.Commit(); err != nil {
		return run, r.failRun(run, staging, err)
	}

	if len(rejected) > 0 {
		if err := r.runs.SaveRejectedRows(run.ID, rejected); err != nil {
			r.logger.Error("Не удалось сохранить архив отбракованных строк запуска %s: %v", run.ID, err)
		}
	}

	endTime := r.now()
	if err := r.runs.CompleteRun(run, endTime); err != nil {
		return run, fmt.Errorf("ошибка при фиксации записи запуска %s: %w", run.ID, err)
	}
	r.logger.LogRunCommitted(run.ID, run.FactRowsBuilt, endTime.Sub(startTime))
	return run, nil
}

// failRun фиксирует неуспех запуска: отбрасывает подготовленную область
// (действующие таблицы не затронуты) и записывает причину в журнал
func (r *Runner) failRun(run *models.LoadRun, staging load.Staging, cause error) error {
	if staging != nil {
		if err := staging.Discard(); err != nil {
			r.logger.Error("Не удалось отбросить подготовленную область запуска %s: %v", run.ID, err)
		}
	}

	reason := "cancelled"
	if !errors.Is(cause, models.ErrRunCancelled) {
		reason = cause.Error()
	}
	if err := r.runs.FailRun(run, r.now(), reason); err != nil {
		r.logger.Error("Не удалось записать неуспех запуска %s: %v", run.ID, err)
	}
	r.logger.LogRunFailed(run.ID, reason)
	return cause
}
