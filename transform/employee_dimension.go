package transform

import (
	"github.com/optiflow/eyecare_datamart/models"
)

// EmployeeDimensionSpec - измерение сотрудников. SCD-2: перевод в другой
// офис или смена должности создает новую версию.
var EmployeeDimensionSpec = DimensionSpec{
	Name:               models.DimEmployee,
	Policy:             models.SCD2,
	RequiredAttributes: []string{"last_name"},
}

// EmployeeChanges преобразует извлеченных сотрудников во входящие
// изменения измерения
func EmployeeChanges(employees []models.EmployeeOLTP) ([]models.DimensionChange, []models.RejectedRow) {
	var changes []models.DimensionChange
	var rejected []models.RejectedRow

	for _, employee := range employees {
		attrs := map[string]string{
			"first_name": employee.FirstName,
			"last_name":  employee.LastName,
			"office_num": employee.OfficeNum,
			"department": employee.Department,
			"position":   employee.Position,
		}
		if missing := missingRequired(attrs, EmployeeDimensionSpec.RequiredAttributes); missing != "" {
			rejected = append(rejected, models.RejectedRow{
				Entity:     models.DimEmployee,
				NaturalKey: models.NaturalKeyInt(employee.ID),
				Reason:     "отсутствует обязательный атрибут " + missing,
			})
			continue
		}
		changes = append(changes, models.DimensionChange{
			NaturalKey: models.NaturalKeyInt(employee.ID),
			Attributes: attrs,
			Extra: map[string]string{
				"commission_rate": employee.CommissionRate.String(),
			},
			SourceTimestamp: employee.LastModified,
			SourceSeq:       employee.SeqNum,
		})
	}

	return changes, rejected
}
