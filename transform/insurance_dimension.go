package transform

import (
	"github.com/optiflow/eyecare_datamart/models"
)

// InsurancePlanDimensionSpec - измерение страховых планов. SCD-2:
// переименование карьера или смена типа плана создает новую версию.
var InsurancePlanDimensionSpec = DimensionSpec{
	Name:               models.DimInsurancePlan,
	Policy:             models.SCD2,
	RequiredAttributes: []string{"carrier_name"},
}

// InsurancePlanChanges преобразует извлеченные страховые планы во
// входящие изменения измерения
func InsurancePlanChanges(plans []models.InsurancePlanOLTP) ([]models.DimensionChange, []models.RejectedRow) {
	var changes []models.DimensionChange
	var rejected []models.RejectedRow

	for _, plan := range plans {
		attrs := map[string]string{
			"carrier_name": plan.CarrierName,
			"plan_name":    plan.PlanName,
			"plan_type":    plan.PlanType,
		}
		if missing := missingRequired(attrs, InsurancePlanDimensionSpec.RequiredAttributes); missing != "" {
			rejected = append(rejected, models.RejectedRow{
				Entity:     models.DimInsurancePlan,
				NaturalKey: models.NaturalKeyInt(plan.ID),
				Reason:     "отсутствует обязательный атрибут " + missing,
			})
			continue
		}
		changes = append(changes, models.DimensionChange{
			NaturalKey:      models.NaturalKeyInt(plan.ID),
			Attributes:      attrs,
			SourceTimestamp: plan.LastModified,
			SourceSeq:       plan.SeqNum,
		})
	}

	return changes, rejected
}
