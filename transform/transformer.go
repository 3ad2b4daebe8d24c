package transform

import (
	"context"
	"time"

	"github.com/optiflow/eyecare_datamart/models"
	"github.com/optiflow/eyecare_datamart/utils"
)

// Transformer координирует фазу конформации измерений: преобразует
// извлеченные сущности источника во входящие изменения и применяет их
// к хранилищу измерений по политикам SCD
type Transformer struct {
	conformer *SCDConformer
	logger    *utils.ETLLogger
}

// ConformResult содержит итоги фазы конформации
type ConformResult struct {
	RowsConformed int
	Rejected      []models.RejectedRow
}

// NewTransformer создает новый экземпляр Transformer
func NewTransformer(store DimensionStore, logger *utils.ETLLogger, workers int) *Transformer {
	return &Transformer{
		conformer: NewSCDConformer(store, logger, workers),
		logger:    logger,
	}
}

// Conform применяет все изменения измерений за окно запуска.
// Все созданные версии получают единое логическое время logicalNow.
// Отбракованные строки не прерывают конформацию: они накапливаются
// и учитываются координатором при проверке порога отбраковки.
func (t *Transformer) Conform(ctx context.Context, data *models.ExtractedData, logicalNow time.Time) (*ConformResult, error) {
	startTime := time.Now()
	t.logger.Info("Начало фазы Transform (Конформация измерений)")

	result := &ConformResult{}

	officeChanges, officeRejected := OfficeChanges(data.Offices)
	itemTypeChanges, _ := ItemTypeChanges(data.OrderItems)
	patientChanges, patientRejected := PatientChanges(data.Patients, logicalNow)
	planChanges, planRejected := InsurancePlanChanges(data.InsurancePlans)
	employeeChanges, employeeRejected := EmployeeChanges(data.Employees)

	result.Rejected = append(result.Rejected, officeRejected...)
	result.Rejected = append(result.Rejected, patientRejected...)
	result.Rejected = append(result.Rejected, planRejected...)
	result.Rejected = append(result.Rejected, employeeRejected...)
	for _, row := range result.Rejected {
		t.logger.LogRejectedRow(row.Entity, row.NaturalKey, row.Reason)
	}

	// SCD-1 измерения конформируются первыми: на них ссылаются
	// атрибуты SCD-2 измерений (офис сотрудника)
	dimensions := []struct {
		spec    DimensionSpec
		changes []models.DimensionChange
	}{
		{OfficeDimensionSpec, officeChanges},
		{ItemTypeDimensionSpec, itemTypeChanges},
		{PatientDimensionSpec, patientChanges},
		{InsurancePlanDimensionSpec, planChanges},
		{EmployeeDimensionSpec, employeeChanges},
	}

	for _, dim := range dimensions {
		stats, err := t.conformer.ConformDimension(ctx, dim.spec, dim.changes, logicalNow)
		if err != nil {
			return nil, err
		}
		result.RowsConformed += int(stats.Total())
	}

	t.logger.Info("Фаза Transform завершена. Конформировано строк: %d, отбраковано: %d. Длительность: %v",
		result.RowsConformed, len(result.Rejected), time.Since(startTime))
	return result, nil
}

// missingRequired возвращает имя первого отсутствующего обязательного
// атрибута (пустая строка, если все заполнены)
func missingRequired(attrs map[string]string, required []string) string {
	for _, name := range required {
		if attrs[name] == "" {
			return name
		}
	}
	return ""
}
