package extractors

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/optiflow/eyecare_datamart/models"
	"github.com/optiflow/eyecare_datamart/utils"
)

// InsuranceExtractor извлекает данные о страховых планах из исходной БД
type InsuranceExtractor struct {
	db     *sql.DB
	logger *utils.ETLLogger
}

// NewInsuranceExtractor создает новый экземпляр InsuranceExtractor
func NewInsuranceExtractor(db *sql.DB, logger *utils.ETLLogger) *InsuranceExtractor {
	return &InsuranceExtractor{
		db:     db,
		logger: logger,
	}
}

// ExtractInsurancePlans извлекает страховые планы, измененные в окне [low, high).
// Предоплаченные карьеры исключаются - они не участвуют в revenue cycle.
func (e *InsuranceExtractor) ExtractInsurancePlans(low, high time.Time, batchSize int) ([]models.InsurancePlanOLTP, error) {
	e.logger.Debug("Начало извлечения данных о страховых планах (окно: [%v, %v))", low, high)

	query := `
		SELECT p.id, IFNULL(c.carrier_name, ''), IFNULL(p.plan_name, ''),
		       IFNULL(p.plan_type, ''), IFNULL(c.is_prepaid, 0),
		       p.last_modified, p.seq_num
		FROM insurance_plans p
		LEFT JOIN insurance_carriers c ON c.id = p.carrier_id
		WHERE p.last_modified >= ? AND p.last_modified < ?
		ORDER BY p.seq_num
		LIMIT ?
	`

	rows, err := e.db.Query(query, low, high, batchSize)
	if err != nil {
		e.logger.Error("Ошибка при извлечении данных о страховых планах: %v", err)
		return nil, fmt.Errorf("ошибка запроса страховых планов: %w", err)
	}
	defer rows.Close()

	var plans []models.InsurancePlanOLTP
	for rows.Next() {
		var plan models.InsurancePlanOLTP
		if err := rows.Scan(
			&plan.ID, &plan.CarrierName, &plan.PlanName,
			&plan.PlanType, &plan.IsPrepaid,
			&plan.LastModified, &plan.SeqNum,
		); err != nil {
			e.logger.Error("Ошибка при обработке данных страхового плана: %v", err)
			return nil, fmt.Errorf("ошибка обработки данных страхового плана: %w", err)
		}
		if plan.IsPrepaid {
			continue
		}
		plans = append(plans, plan)
	}

	if err = rows.Err(); err != nil {
		e.logger.Error("Ошибка после итерации по страховым планам: %v", err)
		return nil, fmt.Errorf("ошибка после итерации по страховым планам: %w", err)
	}

	e.logger.Debug("Извлечено %d страховых планов", len(plans))
	return plans, nil
}
