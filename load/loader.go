package load

import (
	"github.com/optiflow/eyecare_datamart/models"
	"github.com/optiflow/eyecare_datamart/transform"
)

// FactStore представляет хранилище фактовых строк подготовленной области
type FactStore interface {
	// UpsertFacts загружает фактовые строки. Строка с уже существующей
	// грануляцией (source_transaction_id, line_number) замещается,
	// поэтому повторная загрузка того же окна идемпотентна.
	UpsertFacts(facts []models.RevenueFact) error

	// StagedTotals возвращает контрольные суммы загруженных фактов
	// для сверки с источником
	StagedTotals() (*models.ControlTotals, error)
}

// Staging представляет подготовленную область загрузки. Все изменения
// запуска применяются к копиям таблиц датамарта; действующие таблицы
// не затрагиваются до фиксации.
type Staging interface {
	// Dimensions возвращает хранилище измерений подготовленной области
	Dimensions() transform.DimensionStore

	// Facts возвращает хранилище фактов подготовленной области
	Facts() FactStore

	// EnsureDateDimension пополняет календарь недостающими датами
	EnsureDateDimension(rows []models.DateDimension) error

	// Commit атомарно подменяет действующие таблицы подготовленными.
	// Читатели видят либо полностью прежнее, либо полностью новое
	// состояние датамарта.
	Commit() error

	// Discard отбрасывает подготовленную область, не затрагивая
	// действующие таблицы
	Discard() error
}

// Stager создает подготовленную область для запуска сборки
type Stager interface {
	Begin() (Staging, error)
}
