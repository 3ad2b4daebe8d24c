package load

import (
	"database/sql"
	"fmt"

	"github.com/optiflow/eyecare_datamart/models"
	"github.com/optiflow/eyecare_datamart/utils"
)

// Таблицы датамарта, участвующие в подмене при фиксации запуска
var martTables = []string{
	models.DimOffice,
	models.DimItemType,
	models.DimPatient,
	models.DimInsurancePlan,
	models.DimEmployee,
	"dim_date",
	"fact_revenue_transactions",
}

// LoadManager управляет схемой датамарта и создает подготовленные
// области загрузки
type LoadManager struct {
	db     *sql.DB
	logger *utils.ETLLogger
}

// NewLoadManager создает новый экземпляр LoadManager
func NewLoadManager(db *sql.DB, logger *utils.ETLLogger) *LoadManager {
	return &LoadManager{
		db:     db,
		logger: logger,
	}
}

// CreateMartTables создает таблицы датамарта, если они не существуют
func (m *LoadManager) CreateMartTables() error {
	dimensionDDL := `
		CREATE TABLE IF NOT EXISTS %s (
			surrogate_key BIGINT AUTO_INCREMENT PRIMARY KEY,
			natural_key VARCHAR(64) NOT NULL,
			attributes JSON NOT NULL,
			extra JSON,
			effective_from DATETIME NOT NULL,
			effective_to DATETIME,
			is_current TINYINT(1) NOT NULL DEFAULT 1,
			version_number INT NOT NULL DEFAULT 1,
			UNIQUE KEY uk_natural_version (natural_key, version_number),
			KEY idx_current (natural_key, is_current)
		)
	`
	for _, dim := range []string{
		models.DimOffice, models.DimItemType, models.DimPatient,
		models.DimInsurancePlan, models.DimEmployee,
	} {
		if _, err := m.db.Exec(fmt.Sprintf(dimensionDDL, dim)); err != nil {
			return fmt.Errorf("ошибка при создании таблицы %s: %w", dim, err)
		}
	}

	dateDDL := `
		CREATE TABLE IF NOT EXISTS dim_date (
			date_key INT PRIMARY KEY,
			date_value DATE NOT NULL,
			year INT NOT NULL,
			quarter INT NOT NULL,
			month INT NOT NULL,
			month_name VARCHAR(16) NOT NULL,
			day INT NOT NULL,
			day_of_week INT NOT NULL,
			day_name VARCHAR(16) NOT NULL,
			week_of_year INT NOT NULL,
			is_weekend TINYINT(1) NOT NULL,
			fiscal_year INT NOT NULL,
			fiscal_quarter INT NOT NULL
		)
	`
	if _, err := m.db.Exec(dateDDL); err != nil {
		return fmt.Errorf("ошибка при создании таблицы dim_date: %w", err)
	}

	factDDL := `
		CREATE TABLE IF NOT EXISTS fact_revenue_transactions (
			source_transaction_id BIGINT NOT NULL,
			line_number INT NOT NULL,
			source VARCHAR(16) NOT NULL,
			order_num VARCHAR(32) NOT NULL,
			date_key INT NOT NULL,
			office_key BIGINT NOT NULL,
			patient_key BIGINT NOT NULL,
			insurance_plan_key BIGINT NOT NULL DEFAULT 0,
			employee_key BIGINT NOT NULL DEFAULT 0,
			item_type_key BIGINT NOT NULL DEFAULT 0,
			billed_amount DECIMAL(14,2) NOT NULL DEFAULT 0,
			insurance_ar DECIMAL(14,2) NOT NULL DEFAULT 0,
			insurance_payment DECIMAL(14,2) NOT NULL DEFAULT 0,
			patient_payment DECIMAL(14,2) NOT NULL DEFAULT 0,
			adjustment DECIMAL(14,2) NOT NULL DEFAULT 0,
			refund_adjustment DECIMAL(14,2) NOT NULL DEFAULT 0,
			writeoff_all DECIMAL(14,2) NOT NULL DEFAULT 0,
			collections DECIMAL(14,2) NOT NULL DEFAULT 0,
			insurance_balance DECIMAL(14,2) NOT NULL DEFAULT 0,
			patient_balance DECIMAL(14,2) NOT NULL DEFAULT 0,
			transaction_date DATETIME NOT NULL,
			PRIMARY KEY (source_transaction_id, line_number),
			KEY idx_date (date_key),
			KEY idx_office (office_key),
			KEY idx_patient (patient_key)
		)
	`
	if _, err := m.db.Exec(factDDL); err != nil {
		return fmt.Errorf("ошибка при создании таблицы fact_revenue_transactions: %w", err)
	}

	m.logger.Debug("Таблицы датамарта проверены/созданы")
	return nil
}

// Begin создает подготовленную область: для каждой таблицы датамарта
// создается копия stg_* с текущим содержимым. Вся работа запуска идет
// в копиях; действующие таблицы остаются доступными читателям.
func (m *LoadManager) Begin() (Staging, error) {
	m.logger.Debug("Создание подготовленной области загрузки")

	for _, table := range martTables {
		if _, err := m.db.Exec(fmt.Sprintf("DROP TABLE IF EXISTS stg_%s", table)); err != nil {
			return nil, fmt.Errorf("ошибка при очистке stg_%s: %w", table, err)
		}
		if _, err := m.db.Exec(fmt.Sprintf("CREATE TABLE stg_%s LIKE %s", table, table)); err != nil {
			return nil, fmt.Errorf("ошибка при создании stg_%s: %w", table, err)
		}
		if _, err := m.db.Exec(fmt.Sprintf("INSERT INTO stg_%s SELECT * FROM %s", table, table)); err != nil {
			return nil, fmt.Errorf("ошибка при заполнении stg_%s: %w", table, err)
		}
	}

	return newMySQLStaging(m.db, m.logger), nil
}
