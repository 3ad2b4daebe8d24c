package transform

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/optiflow/eyecare_datamart/models"
	"github.com/optiflow/eyecare_datamart/utils"
)

// DimensionStore представляет хранилище измерений, над которым работает
// конформер. Реализации обязаны быть безопасными для конкурентного
// использования: конформер распределяет натуральные ключи по воркерам.
type DimensionStore interface {
	// LookupCurrent возвращает текущую строку измерения по натуральному
	// ключу (nil, если строки нет)
	LookupCurrent(dimension, naturalKey string) (*models.DimensionRow, error)

	// LookupAsOf возвращает версию строки, действовавшую на указанный
	// момент времени (nil, если версии нет)
	LookupAsOf(dimension, naturalKey string, asOf time.Time) (*models.DimensionRow, error)

	// Insert вставляет новую строку измерения и возвращает суррогатный ключ
	Insert(dimension string, row *models.DimensionRow) (int64, error)

	// Overwrite перезаписывает атрибуты существующей строки (SCD-1)
	Overwrite(dimension string, row *models.DimensionRow) error

	// CloseVersion закрывает текущую версию строки (SCD-2):
	// выставляет effective_to и снимает признак is_current
	CloseVersion(dimension string, surrogateKey int64, effectiveTo time.Time) error
}

// DimensionSpec описывает измерение: имя, политику SCD и обязательные атрибуты
type DimensionSpec struct {
	Name               string
	Policy             models.SCDPolicy
	RequiredAttributes []string
}

// ConformStats содержит счетчики результатов конформации одного измерения
type ConformStats struct {
	Inserted  atomic.Int64
	Updated   atomic.Int64
	Unchanged atomic.Int64
}

// Total возвращает общее количество обработанных строк измерения
func (s *ConformStats) Total() int64 {
	return s.Inserted.Load() + s.Updated.Load() + s.Unchanged.Load()
}

// SCDConformer применяет входящие изменения измерений к хранилищу
// по политике SCD-1 (перезапись) или SCD-2 (версионирование)
type SCDConformer struct {
	store   DimensionStore
	logger  *utils.ETLLogger
	workers int
}

// NewSCDConformer создает новый экземпляр SCDConformer
func NewSCDConformer(store DimensionStore, logger *utils.ETLLogger, workers int) *SCDConformer {
	if workers < 1 {
		workers = 1
	}
	return &SCDConformer{
		store:   store,
		logger:  logger,
		workers: workers,
	}
}

// ConformDimension применяет изменения одного измерения.
// Несколько изменений одного ключа внутри запуска сворачиваются в итоговое
// состояние в порядке (source_timestamp, source_seq), поэтому на ключ
// создается не более одной новой версии за запуск. Все версии запуска
// получают единое логическое время logicalNow (верхняя граница окна).
func (c *SCDConformer) ConformDimension(ctx context.Context, spec DimensionSpec, changes []models.DimensionChange, logicalNow time.Time) (*ConformStats, error) {
	stats := &ConformStats{}
	if len(changes) == 0 {
		return stats, nil
	}

	// Сворачиваем изменения до итогового состояния на ключ
	sort.Slice(changes, func(i, j int) bool {
		if changes[i].SourceTimestamp.Equal(changes[j].SourceTimestamp) {
			return changes[i].SourceSeq < changes[j].SourceSeq
		}
		return changes[i].SourceTimestamp.Before(changes[j].SourceTimestamp)
	})
	folded := make(map[string]models.DimensionChange, len(changes))
	for _, ch := range changes {
		folded[ch.NaturalKey] = ch
	}

	// Распределяем ключи по воркерам хешированием: каждый ключ
	// обрабатывается ровно одним воркером, порядок между ключами не важен
	partitions := make([][]models.DimensionChange, c.workers)
	for key, ch := range folded {
		h := fnv.New32a()
		h.Write([]byte(key))
		idx := int(h.Sum32()) % c.workers
		partitions[idx] = append(partitions[idx], ch)
	}

	var wg sync.WaitGroup
	errCh := make(chan error, c.workers)
	for _, part := range partitions {
		if len(part) == 0 {
			continue
		}
		wg.Add(1)
		go func(part []models.DimensionChange) {
			defer wg.Done()
			for _, ch := range part {
				if err := ctx.Err(); err != nil {
					errCh <- fmt.Errorf("%w: %v", models.ErrRunCancelled, err)
					return
				}
				if err := c.applyChange(spec, ch, logicalNow, stats); err != nil {
					errCh <- err
					return
				}
			}
		}(part)
	}
	wg.Wait()
	close(errCh)

	if err := <-errCh; err != nil {
		return nil, fmt.Errorf("ошибка конформации измерения %s: %w", spec.Name, err)
	}

	c.logger.Debug("Измерение %s: вставлено %d, обновлено %d, без изменений %d",
		spec.Name, stats.Inserted.Load(), stats.Updated.Load(), stats.Unchanged.Load())
	return stats, nil
}

// applyChange применяет итоговое изменение одного натурального ключа
func (c *SCDConformer) applyChange(spec DimensionSpec, ch models.DimensionChange, logicalNow time.Time, stats *ConformStats) error {
	current, err := c.store.LookupCurrent(spec.Name, ch.NaturalKey)
	if err != nil {
		return fmt.Errorf("поиск текущей строки %s[%s]: %w", spec.Name, ch.NaturalKey, err)
	}

	if current == nil {
		row := &models.DimensionRow{
			NaturalKey:    ch.NaturalKey,
			Attributes:    ch.Attributes,
			Extra:         ch.Extra,
			EffectiveFrom: logicalNow,
			IsCurrent:     true,
			Version:       1,
		}
		if _, err := c.store.Insert(spec.Name, row); err != nil {
			return fmt.Errorf("вставка строки %s[%s]: %w", spec.Name, ch.NaturalKey, err)
		}
		stats.Inserted.Inc()
		c.logger.LogDimensionVersionChange(spec.Name, ch.NaturalKey, "создана", 1)
		return nil
	}

	if current.AttributesEqual(ch.Attributes) {
		stats.Unchanged.Inc()
		return nil
	}

	switch spec.Policy {
	case models.SCD1:
		current.Attributes = ch.Attributes
		current.Extra = ch.Extra
		if err := c.store.Overwrite(spec.Name, current); err != nil {
			return fmt.Errorf("перезапись строки %s[%s]: %w", spec.Name, ch.NaturalKey, err)
		}
		stats.Updated.Inc()
		c.logger.LogDimensionVersionChange(spec.Name, ch.NaturalKey, "перезаписана", current.Version)

	case models.SCD2:
		if err := c.store.CloseVersion(spec.Name, current.SurrogateKey, logicalNow); err != nil {
			return fmt.Errorf("закрытие версии %s[%s]: %w", spec.Name, ch.NaturalKey, err)
		}
		row := &models.DimensionRow{
			NaturalKey:    ch.NaturalKey,
			Attributes:    ch.Attributes,
			Extra:         ch.Extra,
			EffectiveFrom: logicalNow,
			IsCurrent:     true,
			Version:       current.Version + 1,
		}
		if _, err := c.store.Insert(spec.Name, row); err != nil {
			return fmt.Errorf("вставка версии %s[%s]: %w", spec.Name, ch.NaturalKey, err)
		}
		stats.Updated.Inc()
		c.logger.LogDimensionVersionChange(spec.Name, ch.NaturalKey, "новая версия", row.Version)

	default:
		return fmt.Errorf("неизвестная политика SCD %d для измерения %s", spec.Policy, spec.Name)
	}

	return nil
}
