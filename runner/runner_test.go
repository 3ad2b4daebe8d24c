package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/optiflow/eyecare_datamart/load"
	"github.com/optiflow/eyecare_datamart/models"
	"github.com/optiflow/eyecare_datamart/utils"
)

var (
	firstRunTime  = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	secondRunTime = time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
)

// memRunRepo - журнал запусков в памяти для тестов координатора
type memRunRepo struct {
	mu      sync.Mutex
	runs    []*models.LoadRun
	rejects map[string][]models.RejectedRow
}

func newMemRunRepo() *memRunRepo {
	return &memRunRepo{rejects: make(map[string][]models.RejectedRow)}
}

func (r *memRunRepo) CreateRunTables() error { return nil }

func (r *memRunRepo) ClaimRun(grain string, low, high, startedAt time.Time) (*models.LoadRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, run := range r.runs {
		if run.Grain == grain && run.Status == models.RunStatusRunning {
			return nil, fmt.Errorf("%w: грануляция %s", models.ErrConcurrentRunConflict, grain)
		}
	}
	run := &models.LoadRun{
		ID:            fmt.Sprintf("run-%d", len(r.runs)+1),
		Grain:         grain,
		WatermarkLow:  low,
		WatermarkHigh: high,
		Status:        models.RunStatusRunning,
		StartTime:     startedAt,
	}
	r.runs = append(r.runs, run)
	return run, nil
}

func (r *memRunRepo) CompleteRun(run *models.LoadRun, endTime time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	run.Status = models.RunStatusCommitted
	run.EndTime = endTime
	run.ExecutionTimeSeconds = endTime.Sub(run.StartTime).Seconds()
	return nil
}

func (r *memRunRepo) FailRun(run *models.LoadRun, endTime time.Time, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	run.Status = models.RunStatusFailed
	run.EndTime = endTime
	run.FailureReason = reason
	return nil
}

func (r *memRunRepo) LastCommitted(grain string) (*models.LoadRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var last *models.LoadRun
	for _, run := range r.runs {
		if run.Grain != grain || run.Status != models.RunStatusCommitted {
			continue
		}
		if last == nil || run.WatermarkHigh.After(last.WatermarkHigh) {
			last = run
		}
	}
	return last, nil
}

func (r *memRunRepo) ListRecent(grain string, limit int) ([]models.LoadRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var runs []models.LoadRun
	for i := len(r.runs) - 1; i >= 0 && len(runs) < limit; i-- {
		if r.runs[i].Grain == grain {
			runs = append(runs, *r.runs[i])
		}
	}
	return runs, nil
}

func (r *memRunRepo) SaveRejectedRows(runID string, rows []models.RejectedRow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rejects[runID] = rows
	return nil
}

func (r *memRunRepo) LoadRejectedRows(runID string) ([]models.RejectedRow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rejects[runID], nil
}

// stubExtractor отдает заранее заданные данные независимо от окна
type stubExtractor struct {
	data *models.ExtractedData
	err  error
}

func (s *stubExtractor) Extract(ctx context.Context, low, high time.Time) (*models.ExtractedData, error) {
	if s.err != nil {
		return nil, s.err
	}
	data := *s.data
	data.WindowLow = low
	data.WindowHigh = high
	return &data, nil
}

// windowExtractor воспроизводит контракт извлечения из БД: измерения
// фильтруются по окну last_modified, а по затронутым строкам транзакций
// отдается полная история событий вплоть до high
type windowExtractor struct {
	dims   *models.ExtractedData
	events []models.BillingTransactionOLTP
}

func (s *windowExtractor) Extract(ctx context.Context, low, high time.Time) (*models.ExtractedData, error) {
	data := &models.ExtractedData{WindowLow: low, WindowHigh: high}
	inWindow := func(modified time.Time) bool {
		return !modified.Before(low) && modified.Before(high)
	}

	for _, office := range s.dims.Offices {
		if inWindow(office.LastModified) {
			data.Offices = append(data.Offices, office)
		}
	}
	for _, patient := range s.dims.Patients {
		if inWindow(patient.LastModified) {
			data.Patients = append(data.Patients, patient)
		}
	}

	touched := make(map[models.FactLineKey]bool)
	for _, event := range s.events {
		if inWindow(event.LastModified) {
			touched[models.FactLineKey{SourceTransactionID: event.SourceTransactionID, LineNumber: event.LineNumber}] = true
		}
	}
	for _, event := range s.events {
		key := models.FactLineKey{SourceTransactionID: event.SourceTransactionID, LineNumber: event.LineNumber}
		if touched[key] && event.LastModified.Before(high) {
			data.BillingTransactions = append(data.BillingTransactions, event)
		}
	}
	return data, nil
}

// stubReconciler управляемо проходит или проваливает сверку
type stubReconciler struct {
	err error
}

func (s *stubReconciler) Reconcile(upTo time.Time, factTotals *models.ControlTotals) ([]models.ReconciliationDelta, error) {
	delta := models.ReconciliationDelta{Metric: "transaction_line_count", WithinTolerance: s.err == nil}
	return []models.ReconciliationDelta{delta}, s.err
}

func fixtureData() *models.ExtractedData {
	return &models.ExtractedData{
		Offices: []models.OfficeOLTP{{
			OfficeNum: "OFF-01", OfficeName: "Центральный",
			LastModified: firstRunTime.Add(-time.Hour),
		}},
		Patients: []models.PatientOLTP{{
			ID: 42, FirstName: "Анна", LastName: "Ким",
			BirthDate:    time.Date(1990, 5, 1, 0, 0, 0, 0, time.UTC),
			LastModified: firstRunTime.Add(-time.Hour),
		}},
		BillingTransactions: []models.BillingTransactionOLTP{{
			SourceTransactionID: 1001, LineNumber: 1, OrderNum: "ORD-1",
			PatientID: 42, OfficeNum: "OFF-01",
			TransTypeID: models.BillingTransCharge,
			InsDeltaAR:  decimal.NewFromInt(120),
			TransactionDate: firstRunTime.Add(-2 * time.Hour),
			LastModified:    firstRunTime.Add(-time.Hour),
		}},
	}
}

func newTestRunner(mart *load.MemoryMart, repo *memRunRepo, reconciler Reconciler, at time.Time) *Runner {
	r := NewRunner(&stubExtractor{data: fixtureData()}, mart, repo, reconciler,
		utils.NewETLLogger(false), 2, 0.05)
	r.now = func() time.Time { return at }
	return r
}

func TestRunOnceCommitsAndAdvancesWatermark(t *testing.T) {
	mart := load.NewMemoryMart()
	repo := newMemRunRepo()

	r := newTestRunner(mart, repo, &stubReconciler{}, firstRunTime)
	run, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("запуск завершился ошибкой: %v", err)
	}
	if run.Status != models.RunStatusCommitted {
		t.Errorf("ожидался статус committed, получен %s", run.Status)
	}
	if run.FactRowsBuilt != 1 || mart.FactCount() != 1 {
		t.Errorf("фактовая строка должна быть зафиксирована: построено %d, в датамарте %d",
			run.FactRowsBuilt, mart.FactCount())
	}

	last, err := repo.LastCommitted(models.FactGrainRevenue)
	if err != nil || last == nil {
		t.Fatalf("зафиксированный запуск должен находиться: %v", err)
	}
	if !last.WatermarkHigh.Equal(firstRunTime) {
		t.Errorf("водяной знак должен продвинуться до %v, получено %v", firstRunTime, last.WatermarkHigh)
	}

	// Следующий запуск начинает окно с водяного знака предыдущего
	r.now = func() time.Time { return secondRunTime }
	run2, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("второй запуск завершился ошибкой: %v", err)
	}
	if !run2.WatermarkLow.Equal(firstRunTime) || !run2.WatermarkHigh.Equal(secondRunTime) {
		t.Errorf("окно второго запуска некорректно: [%v, %v)", run2.WatermarkLow, run2.WatermarkHigh)
	}
}

func TestConcurrentRunConflict(t *testing.T) {
	mart := load.NewMemoryMart()
	repo := newMemRunRepo()

	// Другой запуск уже захвачен по этой грануляции
	if _, err := repo.ClaimRun(models.FactGrainRevenue, firstRunTime.Add(-time.Hour), firstRunTime, firstRunTime); err != nil {
		t.Fatalf("подготовка: %v", err)
	}

	r := newTestRunner(mart, repo, &stubReconciler{}, secondRunTime)
	_, err := r.RunOnce(context.Background())
	if !errors.Is(err, models.ErrConcurrentRunConflict) {
		t.Fatalf("ожидался конфликт запусков, получено %v", err)
	}
	if mart.FactCount() != 0 {
		t.Error("конфликтующий запуск не должен трогать датамарт")
	}
}

func TestReconciliationFailureLeavesLiveUntouched(t *testing.T) {
	mart := load.NewMemoryMart()
	repo := newMemRunRepo()

	r := newTestRunner(mart, repo, &stubReconciler{err: models.ErrReconciliationMismatch}, firstRunTime)
	run, err := r.RunOnce(context.Background())
	if !errors.Is(err, models.ErrReconciliationMismatch) {
		t.Fatalf("ожидалась ошибка сверки, получено %v", err)
	}
	if run.Status != models.RunStatusFailed {
		t.Errorf("запуск должен быть помечен неуспешным: %s", run.Status)
	}
	if len(run.ReconciliationDeltas) == 0 {
		t.Error("детали расхождений должны сохраняться в записи запуска")
	}
	if mart.FactCount() != 0 {
		t.Error("действующие таблицы не должны меняться при провале сверки")
	}
	if last, _ := repo.LastCommitted(models.FactGrainRevenue); last != nil {
		t.Error("водяной знак не должен продвигаться при провале сверки")
	}
}

func TestRejectionThresholdFatal(t *testing.T) {
	mart := load.NewMemoryMart()
	repo := newMemRunRepo()

	data := fixtureData()
	// Пациент без даты рождения отбраковывается; на 4 исходные строки
	// это 25% - выше порога 5%
	data.Patients = append(data.Patients, models.PatientOLTP{
		ID: 43, FirstName: "Ирина", LastName: "Бойко",
		BirthDate:    time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC),
		LastModified: firstRunTime.Add(-time.Hour),
	})

	r := NewRunner(&stubExtractor{data: data}, mart, repo, &stubReconciler{},
		utils.NewETLLogger(false), 2, 0.05)
	r.now = func() time.Time { return firstRunTime }

	run, err := r.RunOnce(context.Background())
	if !errors.Is(err, models.ErrRejectionThresholdExceeded) {
		t.Fatalf("ожидалось превышение порога отбраковки, получено %v", err)
	}
	if run.Status != models.RunStatusFailed {
		t.Errorf("запуск должен быть помечен неуспешным: %s", run.Status)
	}
	if mart.FactCount() != 0 {
		t.Error("датамарт не должен меняться при превышении порога")
	}
}

func TestCancelledRunRecordsReason(t *testing.T) {
	mart := load.NewMemoryMart()
	repo := newMemRunRepo()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := newTestRunner(mart, repo, &stubReconciler{}, firstRunTime)
	run, err := r.RunOnce(ctx)
	if !errors.Is(err, models.ErrRunCancelled) {
		t.Fatalf("ожидалась отмена запуска, получено %v", err)
	}
	if run.Status != models.RunStatusFailed || run.FailureReason != "cancelled" {
		t.Errorf("отмена должна фиксироваться с причиной cancelled: %+v", run)
	}
	if mart.FactCount() != 0 {
		t.Error("отмененный запуск не должен менять датамарт")
	}
}

func TestLateEventKeepsCommittedMeasures(t *testing.T) {
	mart := load.NewMemoryMart()
	repo := newMemRunRepo()

	// Страховая оплачивает начисление в следующем окне: платеж попадает
	// в окно второго запуска, само начисление - в окно первого
	fixture := fixtureData()
	extractor := &windowExtractor{
		dims: fixture,
		events: []models.BillingTransactionOLTP{
			fixture.BillingTransactions[0],
			{
				SourceTransactionID: 1001, LineNumber: 1, OrderNum: "ORD-1",
				PatientID: 42, OfficeNum: "OFF-01",
				TransTypeID: models.BillingTransInsPayment,
				InsDeltaAR:  decimal.NewFromInt(-120),
				TransactionDate: secondRunTime.Add(-2 * time.Hour),
				LastModified:    secondRunTime.Add(-time.Hour),
			},
		},
	}

	r := NewRunner(extractor, mart, repo, &stubReconciler{},
		utils.NewETLLogger(false), 2, 0.05)
	r.now = func() time.Time { return firstRunTime }
	if _, err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("первый запуск: %v", err)
	}

	first, ok := mart.Fact(1001, 1)
	if !ok {
		t.Fatal("фактовая строка не найдена после первого запуска")
	}
	if !first.BilledAmount.Equal(decimal.NewFromInt(120)) || !first.InsuranceBalance.Equal(decimal.NewFromInt(120)) {
		t.Fatalf("после первого запуска: начислено %s, остаток %s", first.BilledAmount, first.InsuranceBalance)
	}

	r.now = func() time.Time { return secondRunTime }
	if _, err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("второй запуск: %v", err)
	}

	// Замещенная строка несет накопленные меры, а не меры одного окна
	second, ok := mart.Fact(1001, 1)
	if !ok {
		t.Fatal("фактовая строка не найдена после второго запуска")
	}
	if mart.FactCount() != 1 {
		t.Errorf("поздний платеж не должен порождать вторую строку: строк %d", mart.FactCount())
	}
	if !second.BilledAmount.Equal(decimal.NewFromInt(120)) {
		t.Errorf("начисление первого окна должно сохраниться: %s", second.BilledAmount)
	}
	if !second.InsurancePayment.Equal(decimal.NewFromInt(120)) {
		t.Errorf("платеж второго окна должен учитываться: %s", second.InsurancePayment)
	}
	if !second.InsuranceBalance.IsZero() || !second.PatientBalance.IsZero() {
		t.Errorf("оплаченная строка должна закрыться в ноль: %s / %s",
			second.InsuranceBalance, second.PatientBalance)
	}
}

func TestRerunIsIdempotent(t *testing.T) {
	mart := load.NewMemoryMart()
	repo := newMemRunRepo()

	r := newTestRunner(mart, repo, &stubReconciler{}, firstRunTime)
	if _, err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("первый запуск: %v", err)
	}
	factBefore, ok := mart.Fact(1001, 1)
	if !ok {
		t.Fatal("фактовая строка не найдена после первого запуска")
	}

	// Повторная обработка тех же событий замещает строки, не дублируя
	r.now = func() time.Time { return secondRunTime }
	if _, err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("повторный запуск: %v", err)
	}
	if mart.FactCount() != 1 {
		t.Errorf("повторный запуск не должен дублировать факты: строк %d", mart.FactCount())
	}
	factAfter, _ := mart.Fact(1001, 1)
	if !factAfter.BilledAmount.Equal(factBefore.BilledAmount) {
		t.Errorf("меры замещенной строки должны совпадать: %s и %s",
			factBefore.BilledAmount, factAfter.BilledAmount)
	}
}
