package runner

import (
	"context"
	"errors"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/optiflow/eyecare_datamart/models"
	"github.com/optiflow/eyecare_datamart/utils"
)

// Scheduler периодически запускает сборку датамарта
type Scheduler struct {
	scheduler *gocron.Scheduler
	runner    *Runner
	logger    *utils.ETLLogger
	interval  time.Duration
}

// NewScheduler создает новый экземпляр Scheduler
func NewScheduler(runner *Runner, logger *utils.ETLLogger, interval time.Duration) *Scheduler {
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		runner:    runner,
		logger:    logger,
		interval:  interval,
	}
}

// Start запускает планировщик. Наложившиеся запуски разрешает захват
// в журнале: второй запуск по той же грануляции завершается конфликтом
// и пропускается.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("Планировщик запущен. Интервал сборки: %v", s.interval)

	_, err := s.scheduler.Every(s.interval).Do(func() {
		if _, err := s.runner.RunOnce(ctx); err != nil {
			if errors.Is(err, models.ErrConcurrentRunConflict) {
				return
			}
			s.logger.Error("Запуск сборки завершился ошибкой: %v", err)
		}
	})
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	return nil
}

// Stop останавливает планировщик; уже идущий запуск доработает до конца
func (s *Scheduler) Stop() {
	s.scheduler.Stop()
	s.logger.Info("Планировщик остановлен")
}
