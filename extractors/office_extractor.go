package extractors

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/optiflow/eyecare_datamart/models"
	"github.com/optiflow/eyecare_datamart/utils"
)

// OfficeExtractor извлекает данные об офисах и сотрудниках из исходной БД
type OfficeExtractor struct {
	db     *sql.DB
	logger *utils.ETLLogger
}

// NewOfficeExtractor создает новый экземпляр OfficeExtractor
func NewOfficeExtractor(db *sql.DB, logger *utils.ETLLogger) *OfficeExtractor {
	return &OfficeExtractor{
		db:     db,
		logger: logger,
	}
}

// ExtractOffices извлекает офисы, измененные в окне [low, high)
func (e *OfficeExtractor) ExtractOffices(low, high time.Time, batchSize int) ([]models.OfficeOLTP, error) {
	e.logger.Debug("Начало извлечения данных об офисах (окно: [%v, %v))", low, high)

	query := `
		SELECT office_num, IFNULL(office_name, ''), IFNULL(company_id, 0),
		       IFNULL(region, ''), IFNULL(city, ''), IFNULL(state, ''),
		       IFNULL(active, 1), last_modified, seq_num
		FROM offices
		WHERE last_modified >= ? AND last_modified < ?
		ORDER BY seq_num
		LIMIT ?
	`

	rows, err := e.db.Query(query, low, high, batchSize)
	if err != nil {
		e.logger.Error("Ошибка при извлечении данных об офисах: %v", err)
		return nil, fmt.Errorf("ошибка запроса офисов: %w", err)
	}
	defer rows.Close()

	var offices []models.OfficeOLTP
	for rows.Next() {
		var office models.OfficeOLTP
		if err := rows.Scan(
			&office.OfficeNum, &office.OfficeName, &office.CompanyID,
			&office.Region, &office.City, &office.State,
			&office.Active, &office.LastModified, &office.SeqNum,
		); err != nil {
			e.logger.Error("Ошибка при обработке данных офиса: %v", err)
			return nil, fmt.Errorf("ошибка обработки данных офиса: %w", err)
		}
		offices = append(offices, office)
	}

	if err = rows.Err(); err != nil {
		e.logger.Error("Ошибка после итерации по офисам: %v", err)
		return nil, fmt.Errorf("ошибка после итерации по офисам: %w", err)
	}

	e.logger.Debug("Извлечено %d офисов", len(offices))
	return offices, nil
}

// ExtractEmployees извлекает сотрудников, измененных в окне [low, high)
func (e *OfficeExtractor) ExtractEmployees(low, high time.Time, batchSize int) ([]models.EmployeeOLTP, error) {
	e.logger.Debug("Начало извлечения данных о сотрудниках (окно: [%v, %v))", low, high)

	query := `
		SELECT id, IFNULL(first_name, ''), IFNULL(last_name, ''),
		       IFNULL(office_num, ''), IFNULL(department, ''),
		       IFNULL(position, ''), IFNULL(commission_rate, 0),
		       last_modified, seq_num
		FROM employees
		WHERE last_modified >= ? AND last_modified < ?
		ORDER BY seq_num
		LIMIT ?
	`

	rows, err := e.db.Query(query, low, high, batchSize)
	if err != nil {
		e.logger.Error("Ошибка при извлечении данных о сотрудниках: %v", err)
		return nil, fmt.Errorf("ошибка запроса сотрудников: %w", err)
	}
	defer rows.Close()

	var employees []models.EmployeeOLTP
	for rows.Next() {
		var employee models.EmployeeOLTP
		if err := rows.Scan(
			&employee.ID, &employee.FirstName, &employee.LastName,
			&employee.OfficeNum, &employee.Department, &employee.Position,
			&employee.CommissionRate, &employee.LastModified, &employee.SeqNum,
		); err != nil {
			e.logger.Error("Ошибка при обработке данных сотрудника: %v", err)
			return nil, fmt.Errorf("ошибка обработки данных сотрудника: %w", err)
		}
		employees = append(employees, employee)
	}

	if err = rows.Err(); err != nil {
		e.logger.Error("Ошибка после итерации по сотрудникам: %v", err)
		return nil, fmt.Errorf("ошибка после итерации по сотрудникам: %w", err)
	}

	e.logger.Debug("Извлечено %d сотрудников", len(employees))
	return employees, nil
}
