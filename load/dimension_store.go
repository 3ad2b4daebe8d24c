package load

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/optiflow/eyecare_datamart/models"
	"github.com/optiflow/eyecare_datamart/utils"
)

// MySQLDimensionStore реализует хранилище измерений над stg_* таблицами.
// Атрибуты хранятся в JSON-колонках: набор отслеживаемых атрибутов
// различается между измерениями, а схема таблиц остается единой.
type MySQLDimensionStore struct {
	db     *sql.DB
	logger *utils.ETLLogger
}

// NewMySQLDimensionStore создает новый экземпляр MySQLDimensionStore
func NewMySQLDimensionStore(db *sql.DB, logger *utils.ETLLogger) *MySQLDimensionStore {
	return &MySQLDimensionStore{
		db:     db,
		logger: logger,
	}
}

const dimensionColumns = `surrogate_key, natural_key, attributes, IFNULL(extra, '{}'),
	effective_from, effective_to, is_current, version_number`

// LookupCurrent возвращает текущую строку измерения по натуральному ключу
func (s *MySQLDimensionStore) LookupCurrent(dimension, naturalKey string) (*models.DimensionRow, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM stg_%s
		WHERE natural_key = ? AND is_current = 1
	`, dimensionColumns, dimension)

	row, err := s.scanRow(s.db.QueryRow(query, naturalKey))
	if err != nil {
		return nil, fmt.Errorf("ошибка при поиске текущей строки %s[%s]: %w", dimension, naturalKey, err)
	}
	return row, nil
}

// LookupAsOf возвращает версию строки, действовавшую на момент asOf.
// Если asOf раньше первой версии, возвращается первая версия: факты
// ранних дат соединяются с самой ранней известной версией измерения.
func (s *MySQLDimensionStore) LookupAsOf(dimension, naturalKey string, asOf time.Time) (*models.DimensionRow, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM stg_%s
		WHERE natural_key = ?
		  AND effective_from <= ?
		  AND (effective_to IS NULL OR effective_to > ?)
	`, dimensionColumns, dimension)

	row, err := s.scanRow(s.db.QueryRow(query, naturalKey, asOf, asOf))
	if err != nil {
		return nil, fmt.Errorf("ошибка при темпоральном поиске %s[%s]: %w", dimension, naturalKey, err)
	}
	if row != nil {
		return row, nil
	}

	earliest := fmt.Sprintf(`
		SELECT %s
		FROM stg_%s
		WHERE natural_key = ?
		ORDER BY version_number
		LIMIT 1
	`, dimensionColumns, dimension)

	row, err = s.scanRow(s.db.QueryRow(earliest, naturalKey))
	if err != nil {
		return nil, fmt.Errorf("ошибка при поиске первой версии %s[%s]: %w", dimension, naturalKey, err)
	}
	return row, nil
}

// Insert вставляет новую строку измерения и возвращает суррогатный ключ
func (s *MySQLDimensionStore) Insert(dimension string, row *models.DimensionRow) (int64, error) {
	attrs, err := json.Marshal(row.Attributes)
	if err != nil {
		return 0, fmt.Errorf("ошибка при сериализации атрибутов %s[%s]: %w", dimension, row.NaturalKey, err)
	}
	extra, err := json.Marshal(row.Extra)
	if err != nil {
		return 0, fmt.Errorf("ошибка при сериализации extra-атрибутов %s[%s]: %w", dimension, row.NaturalKey, err)
	}

	query := fmt.Sprintf(`
		INSERT INTO stg_%s
			(natural_key, attributes, extra, effective_from, effective_to, is_current, version_number)
		VALUES (?, ?, ?, ?, NULL, 1, ?)
	`, dimension)

	result, err := s.db.Exec(query, row.NaturalKey, attrs, extra, row.EffectiveFrom, row.Version)
	if err != nil {
		return 0, fmt.Errorf("ошибка при вставке строки %s[%s]: %w", dimension, row.NaturalKey, err)
	}

	surrogateKey, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("ошибка при получении суррогатного ключа %s[%s]: %w", dimension, row.NaturalKey, err)
	}
	row.SurrogateKey = surrogateKey
	return surrogateKey, nil
}

// Overwrite перезаписывает атрибуты существующей строки (SCD-1)
func (s *MySQLDimensionStore) Overwrite(dimension string, row *models.DimensionRow) error {
	attrs, err := json.Marshal(row.Attributes)
	if err != nil {
		return fmt.Errorf("ошибка при сериализации атрибутов %s[%s]: %w", dimension, row.NaturalKey, err)
	}
	extra, err := json.Marshal(row.Extra)
	if err != nil {
		return fmt.Errorf("ошибка при сериализации extra-атрибутов %s[%s]: %w", dimension, row.NaturalKey, err)
	}

	query := fmt.Sprintf(`UPDATE stg_%s SET attributes = ?, extra = ? WHERE surrogate_key = ?`, dimension)
	if _, err := s.db.Exec(query, attrs, extra, row.SurrogateKey); err != nil {
		return fmt.Errorf("ошибка при перезаписи строки %s[%s]: %w", dimension, row.NaturalKey, err)
	}
	return nil
}

// CloseVersion закрывает текущую версию строки (SCD-2)
func (s *MySQLDimensionStore) CloseVersion(dimension string, surrogateKey int64, effectiveTo time.Time) error {
	query := fmt.Sprintf(`UPDATE stg_%s SET effective_to = ?, is_current = 0 WHERE surrogate_key = ?`, dimension)
	if _, err := s.db.Exec(query, effectiveTo, surrogateKey); err != nil {
		return fmt.Errorf("ошибка при закрытии версии %s[%d]: %w", dimension, surrogateKey, err)
	}
	return nil
}

// scanRow читает строку измерения из результата запроса (nil, если строки нет)
func (s *MySQLDimensionStore) scanRow(r *sql.Row) (*models.DimensionRow, error) {
	var row models.DimensionRow
	var attrs, extra []byte
	var effectiveTo sql.NullTime

	err := r.Scan(
		&row.SurrogateKey, &row.NaturalKey, &attrs, &extra,
		&row.EffectiveFrom, &effectiveTo, &row.IsCurrent, &row.Version,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(attrs, &row.Attributes); err != nil {
		return nil, fmt.Errorf("ошибка при разборе атрибутов: %w", err)
	}
	if err := json.Unmarshal(extra, &row.Extra); err != nil {
		return nil, fmt.Errorf("ошибка при разборе extra-атрибутов: %w", err)
	}
	if effectiveTo.Valid {
		row.EffectiveTo = &effectiveTo.Time
	}
	return &row, nil
}
