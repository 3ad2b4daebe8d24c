package transform

import (
	"time"

	"github.com/optiflow/eyecare_datamart/models"
)

// PatientDimensionSpec - измерение пациентов. SCD-2: смена возрастной
// группы, города или статуса создает новую версию строки.
var PatientDimensionSpec = DimensionSpec{
	Name:               models.DimPatient,
	Policy:             models.SCD2,
	RequiredAttributes: []string{"first_name", "last_name", "age_group"},
}

// PatientChanges преобразует извлеченных пациентов во входящие изменения
// измерения. Возрастная группа вычисляется на логическое время запуска;
// пациент без даты рождения не получает группу и отбраковывается.
func PatientChanges(patients []models.PatientOLTP, asOf time.Time) ([]models.DimensionChange, []models.RejectedRow) {
	var changes []models.DimensionChange
	var rejected []models.RejectedRow

	for _, patient := range patients {
		// Дата 1900-01-01 - заглушка источника для отсутствующей даты рождения
		ageGroup := ""
		if patient.BirthDate.Year() > 1900 {
			ageGroup = models.AgeGroup(patient.BirthDate, asOf)
		}
		attrs := map[string]string{
			"first_name": patient.FirstName,
			"last_name":  patient.LastName,
			"gender":     patient.Gender,
			"age_group":  ageGroup,
			"city":       patient.City,
			"state":      patient.State,
			"status":     patient.Status,
		}
		if missing := missingRequired(attrs, PatientDimensionSpec.RequiredAttributes); missing != "" {
			rejected = append(rejected, models.RejectedRow{
				Entity:     models.DimPatient,
				NaturalKey: models.NaturalKeyInt(patient.ID),
				Reason:     "отсутствует обязательный атрибут " + missing,
			})
			continue
		}
		changes = append(changes, models.DimensionChange{
			NaturalKey: models.NaturalKeyInt(patient.ID),
			Attributes: attrs,
			Extra: map[string]string{
				"zip_code":      patient.ZipCode,
				"registered_at": patient.RegisteredAt.Format("2006-01-02"),
			},
			SourceTimestamp: patient.LastModified,
			SourceSeq:       patient.SeqNum,
		})
	}

	return changes, rejected
}
