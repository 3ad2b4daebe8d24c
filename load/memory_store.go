package load

import (
	"sync"
	"time"

	"github.com/optiflow/eyecare_datamart/models"
	"github.com/optiflow/eyecare_datamart/transform"
)

type memFactKey struct {
	transID int64
	line    int
}

// MemoryMart - датамарт в памяти. Используется в тестах вместо MySQL:
// воспроизводит семантику подготовленной области, включая атомарность
// фиксации (до Commit действующее состояние не меняется).
type MemoryMart struct {
	mu      sync.Mutex
	dims    map[string][]models.DimensionRow
	dates   map[int]models.DateDimension
	facts   map[memFactKey]models.RevenueFact
	nextKey int64
}

// NewMemoryMart создает пустой датамарт в памяти
func NewMemoryMart() *MemoryMart {
	return &MemoryMart{
		dims:  make(map[string][]models.DimensionRow),
		dates: make(map[int]models.DateDimension),
		facts: make(map[memFactKey]models.RevenueFact),
	}
}

// Begin создает подготовленную область как глубокую копию текущего состояния
func (m *MemoryMart) Begin() (Staging, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	staging := &memoryStaging{
		mart:    m,
		dims:    make(map[string][]models.DimensionRow, len(m.dims)),
		dates:   make(map[int]models.DateDimension, len(m.dates)),
		facts:   make(map[memFactKey]models.RevenueFact, len(m.facts)),
		nextKey: m.nextKey,
	}
	for dim, rows := range m.dims {
		copied := make([]models.DimensionRow, len(rows))
		for i, row := range rows {
			copied[i] = copyDimensionRow(row)
		}
		staging.dims[dim] = copied
	}
	for key, row := range m.dates {
		staging.dates[key] = row
	}
	for key, fact := range m.facts {
		staging.facts[key] = fact
	}
	return staging, nil
}

// CurrentRow возвращает текущую строку измерения действующего состояния
func (m *MemoryMart) CurrentRow(dimension, naturalKey string) *models.DimensionRow {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.dims[dimension] {
		if row.NaturalKey == naturalKey && row.IsCurrent {
			copied := copyDimensionRow(row)
			return &copied
		}
	}
	return nil
}

// Versions возвращает все версии строки измерения в порядке возрастания
func (m *MemoryMart) Versions(dimension, naturalKey string) []models.DimensionRow {
	m.mu.Lock()
	defer m.mu.Unlock()
	var versions []models.DimensionRow
	for v := 1; ; v++ {
		found := false
		for _, row := range m.dims[dimension] {
			if row.NaturalKey == naturalKey && row.Version == v {
				versions = append(versions, copyDimensionRow(row))
				found = true
				break
			}
		}
		if !found {
			return versions
		}
	}
}

// Fact возвращает фактовую строку действующего состояния
func (m *MemoryMart) Fact(transID int64, line int) (models.RevenueFact, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fact, ok := m.facts[memFactKey{transID, line}]
	return fact, ok
}

// FactCount возвращает количество фактовых строк действующего состояния
func (m *MemoryMart) FactCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.facts)
}

// HasDate сообщает, есть ли дата в календаре действующего состояния
func (m *MemoryMart) HasDate(dateKey int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.dates[dateKey]
	return ok
}

// memoryStaging - подготовленная область датамарта в памяти
type memoryStaging struct {
	mu      sync.Mutex
	mart    *MemoryMart
	dims    map[string][]models.DimensionRow
	dates   map[int]models.DateDimension
	facts   map[memFactKey]models.RevenueFact
	nextKey int64
}

func (s *memoryStaging) Dimensions() transform.DimensionStore { return s }

func (s *memoryStaging) Facts() FactStore { return s }

func (s *memoryStaging) EnsureDateDimension(rows []models.DateDimension) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range rows {
		if _, ok := s.dates[row.DateKey]; !ok {
			s.dates[row.DateKey] = row
		}
	}
	return nil
}

// Commit переносит подготовленное состояние в действующее целиком
func (s *memoryStaging) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mart.mu.Lock()
	defer s.mart.mu.Unlock()

	s.mart.dims = s.dims
	s.mart.dates = s.dates
	s.mart.facts = s.facts
	s.mart.nextKey = s.nextKey
	return nil
}

func (s *memoryStaging) Discard() error {
	return nil
}

func (s *memoryStaging) LookupCurrent(dimension, naturalKey string) (*models.DimensionRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.dims[dimension] {
		if row.NaturalKey == naturalKey && row.IsCurrent {
			copied := copyDimensionRow(row)
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *memoryStaging) LookupAsOf(dimension, naturalKey string, asOf time.Time) (*models.DimensionRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var earliest *models.DimensionRow
	for i := range s.dims[dimension] {
		row := &s.dims[dimension][i]
		if row.NaturalKey != naturalKey {
			continue
		}
		if earliest == nil || row.Version < earliest.Version {
			earliest = row
		}
		if !row.EffectiveFrom.After(asOf) && (row.EffectiveTo == nil || row.EffectiveTo.After(asOf)) {
			copied := copyDimensionRow(*row)
			return &copied, nil
		}
	}
	if earliest != nil {
		copied := copyDimensionRow(*earliest)
		return &copied, nil
	}
	return nil, nil
}

func (s *memoryStaging) Insert(dimension string, row *models.DimensionRow) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextKey++
	row.SurrogateKey = s.nextKey
	s.dims[dimension] = append(s.dims[dimension], copyDimensionRow(*row))
	return row.SurrogateKey, nil
}

func (s *memoryStaging) Overwrite(dimension string, row *models.DimensionRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.dims[dimension] {
		if s.dims[dimension][i].SurrogateKey == row.SurrogateKey {
			s.dims[dimension][i] = copyDimensionRow(*row)
			return nil
		}
	}
	return nil
}

func (s *memoryStaging) CloseVersion(dimension string, surrogateKey int64, effectiveTo time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.dims[dimension] {
		if s.dims[dimension][i].SurrogateKey == surrogateKey {
			to := effectiveTo
			s.dims[dimension][i].EffectiveTo = &to
			s.dims[dimension][i].IsCurrent = false
			return nil
		}
	}
	return nil
}

func (s *memoryStaging) UpsertFacts(facts []models.RevenueFact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, fact := range facts {
		s.facts[memFactKey{fact.SourceTransactionID, fact.LineNumber}] = fact
	}
	return nil
}

func (s *memoryStaging) StagedTotals() (*models.ControlTotals, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	totals := &models.ControlTotals{}
	for _, fact := range s.facts {
		totals.TransactionLineCount++
		totals.TotalBilled = totals.TotalBilled.Add(fact.BilledAmount)
		totals.TotalCollections = totals.TotalCollections.Add(fact.Collections)
	}
	return totals, nil
}

func copyDimensionRow(row models.DimensionRow) models.DimensionRow {
	copied := row
	copied.Attributes = copyStringMap(row.Attributes)
	copied.Extra = copyStringMap(row.Extra)
	if row.EffectiveTo != nil {
		to := *row.EffectiveTo
		copied.EffectiveTo = &to
	}
	return copied
}

func copyStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	copied := make(map[string]string, len(m))
	for k, v := range m {
		copied[k] = v
	}
	return copied
}
