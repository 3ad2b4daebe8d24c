package extractors

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/optiflow/eyecare_datamart/models"
	"github.com/optiflow/eyecare_datamart/utils"
)

// PatientExtractor извлекает данные о пациентах из исходной БД
type PatientExtractor struct {
	db     *sql.DB
	logger *utils.ETLLogger
}

// NewPatientExtractor создает новый экземпляр PatientExtractor
func NewPatientExtractor(db *sql.DB, logger *utils.ETLLogger) *PatientExtractor {
	return &PatientExtractor{
		db:     db,
		logger: logger,
	}
}

// ExtractPatients извлекает пациентов, измененных в окне [low, high)
func (e *PatientExtractor) ExtractPatients(low, high time.Time, batchSize int) ([]models.PatientOLTP, error) {
	e.logger.Debug("Начало извлечения данных о пациентах (окно: [%v, %v))", low, high)

	query := `
		SELECT id, first_name, last_name, IFNULL(birth_date, '1900-01-01'),
		       IFNULL(gender, ''), IFNULL(city, ''), IFNULL(state, ''),
		       IFNULL(zip_code, ''), IFNULL(status, ''), created_at,
		       last_modified, seq_num
		FROM patients
		WHERE last_modified >= ? AND last_modified < ?
		ORDER BY seq_num
		LIMIT ?
	`

	rows, err := e.db.Query(query, low, high, batchSize)
	if err != nil {
		e.logger.Error("Ошибка при извлечении данных о пациентах: %v", err)
		return nil, fmt.Errorf("ошибка запроса пациентов: %w", err)
	}
	defer rows.Close()

	var patients []models.PatientOLTP
	for rows.Next() {
		var patient models.PatientOLTP
		if err := rows.Scan(
			&patient.ID, &patient.FirstName, &patient.LastName,
			&patient.BirthDate, &patient.Gender, &patient.City,
			&patient.State, &patient.ZipCode, &patient.Status,
			&patient.RegisteredAt, &patient.LastModified, &patient.SeqNum,
		); err != nil {
			e.logger.Error("Ошибка при обработке данных пациента: %v", err)
			return nil, fmt.Errorf("ошибка обработки данных пациента: %w", err)
		}
		patients = append(patients, patient)
	}

	// Проверяем ошибки после итерации по результатам
	if err = rows.Err(); err != nil {
		e.logger.Error("Ошибка после итерации по пациентам: %v", err)
		return nil, fmt.Errorf("ошибка после итерации по пациентам: %w", err)
	}

	e.logger.Debug("Извлечено %d пациентов", len(patients))
	return patients, nil
}
