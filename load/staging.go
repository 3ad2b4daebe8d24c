package load

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/optiflow/eyecare_datamart/models"
	"github.com/optiflow/eyecare_datamart/transform"
	"github.com/optiflow/eyecare_datamart/utils"
)

// MySQLStaging реализует подготовленную область над копиями stg_* таблиц
// датамарта MySQL
type MySQLStaging struct {
	db         *sql.DB
	logger     *utils.ETLLogger
	dimensions *MySQLDimensionStore
	facts      *MySQLFactStore
}

func newMySQLStaging(db *sql.DB, logger *utils.ETLLogger) *MySQLStaging {
	return &MySQLStaging{
		db:         db,
		logger:     logger,
		dimensions: NewMySQLDimensionStore(db, logger),
		facts:      NewMySQLFactStore(db, logger),
	}
}

// Dimensions возвращает хранилище измерений подготовленной области
func (s *MySQLStaging) Dimensions() transform.DimensionStore {
	return s.dimensions
}

// Facts возвращает хранилище фактов подготовленной области
func (s *MySQLStaging) Facts() FactStore {
	return s.facts
}

// EnsureDateDimension пополняет календарь недостающими датами.
// Существующие строки не трогаются: ключ даты неизменяем.
func (s *MySQLStaging) EnsureDateDimension(rows []models.DateDimension) error {
	if len(rows) == 0 {
		return nil
	}

	query := `
		INSERT IGNORE INTO stg_dim_date
			(date_key, date_value, year, quarter, month, month_name,
			 day, day_of_week, day_name, week_of_year, is_weekend,
			 fiscal_year, fiscal_quarter)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	stmt, err := s.db.Prepare(query)
	if err != nil {
		return fmt.Errorf("ошибка при подготовке запроса календаря: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		_, err := stmt.Exec(
			row.DateKey, row.Date, row.Year, row.Quarter, row.Month,
			row.MonthName, row.Day, row.DayOfWeek, row.DayName,
			row.WeekOfYear, row.IsWeekend, row.FiscalYear, row.FiscalQuarter,
		)
		if err != nil {
			return fmt.Errorf("ошибка при вставке даты %d: %w", row.DateKey, err)
		}
	}

	s.logger.Debug("Календарь пополнен: проверено %d дат", len(rows))
	return nil
}

// Commit атомарно подменяет действующие таблицы подготовленными одним
// оператором RENAME TABLE: читатели видят либо прежнее, либо новое
// состояние целиком. Вытесненные таблицы удаляются после подмены.
func (s *MySQLStaging) Commit() error {
	// Остатки прерванной прошлой фиксации мешают RENAME
	for _, table := range martTables {
		if _, err := s.db.Exec(fmt.Sprintf("DROP TABLE IF EXISTS old_%s", table)); err != nil {
			return fmt.Errorf("ошибка при очистке old_%s: %w", table, err)
		}
	}

	var renames []string
	for _, table := range martTables {
		renames = append(renames,
			fmt.Sprintf("%s TO old_%s", table, table),
			fmt.Sprintf("stg_%s TO %s", table, table),
		)
	}
	renameStmt := "RENAME TABLE " + strings.Join(renames, ", ")

	if _, err := s.db.Exec(renameStmt); err != nil {
		return fmt.Errorf("ошибка при подмене таблиц датамарта: %w", err)
	}

	for _, table := range martTables {
		if _, err := s.db.Exec(fmt.Sprintf("DROP TABLE IF EXISTS old_%s", table)); err != nil {
			// Подмена уже состоялась; остатки old_* уберет следующий запуск
			s.logger.Error("Не удалось удалить old_%s: %v", table, err)
		}
	}

	s.logger.Debug("Подготовленная область зафиксирована")
	return nil
}

// Discard отбрасывает подготовленную область
func (s *MySQLStaging) Discard() error {
	for _, table := range martTables {
		if _, err := s.db.Exec(fmt.Sprintf("DROP TABLE IF EXISTS stg_%s", table)); err != nil {
			return fmt.Errorf("ошибка при удалении stg_%s: %w", table, err)
		}
	}
	s.logger.Debug("Подготовленная область отброшена")
	return nil
}
