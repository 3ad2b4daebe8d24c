package transform

import (
	"strconv"

	"github.com/optiflow/eyecare_datamart/models"
)

// OfficeDimensionSpec - измерение офисов. SCD-1: переезд или переименование
// офиса перезаписывает строку, история не хранится.
var OfficeDimensionSpec = DimensionSpec{
	Name:               models.DimOffice,
	Policy:             models.SCD1,
	RequiredAttributes: []string{"office_name"},
}

// ItemTypeDimensionSpec - измерение типов товаров. SCD-1.
var ItemTypeDimensionSpec = DimensionSpec{
	Name:   models.DimItemType,
	Policy: models.SCD1,
}

// OfficeChanges преобразует извлеченные офисы во входящие изменения измерения
func OfficeChanges(offices []models.OfficeOLTP) ([]models.DimensionChange, []models.RejectedRow) {
	var changes []models.DimensionChange
	var rejected []models.RejectedRow

	for _, office := range offices {
		attrs := map[string]string{
			"office_name": office.OfficeName,
			"region":      office.Region,
			"city":        office.City,
			"state":       office.State,
			"active":      strconv.FormatBool(office.Active),
		}
		if missing := missingRequired(attrs, OfficeDimensionSpec.RequiredAttributes); missing != "" {
			rejected = append(rejected, models.RejectedRow{
				Entity:     models.DimOffice,
				NaturalKey: office.OfficeNum,
				Reason:     "отсутствует обязательный атрибут " + missing,
			})
			continue
		}
		changes = append(changes, models.DimensionChange{
			NaturalKey: office.OfficeNum,
			Attributes: attrs,
			Extra: map[string]string{
				"company_id": strconv.Itoa(office.CompanyID),
			},
			SourceTimestamp: office.LastModified,
			SourceSeq:       office.SeqNum,
		})
	}

	return changes, rejected
}

// ItemTypeChanges собирает типы товаров из строк заказов. Отдельного
// справочника типов в источнике нет, поэтому измерение наполняется
// по мере появления типов в заказах. Тип 0 (неизвестный) пропускается.
// Товарные атрибуты (название, розничная цена) хранятся справочно в
// Extra: измерение ведется по типу, и смена товара внутри типа не
// считается изменением измерения.
func ItemTypeChanges(items []models.OrderItemOLTP) ([]models.DimensionChange, []models.RejectedRow) {
	var changes []models.DimensionChange

	for _, item := range items {
		if item.ItemTypeID == 0 {
			continue
		}
		changes = append(changes, models.DimensionChange{
			NaturalKey: models.NaturalKeyInt(item.ItemTypeID),
			Attributes: map[string]string{
				"category": item.Category,
			},
			Extra: map[string]string{
				"item_name": item.ItemName,
				"retail":    item.Retail.String(),
			},
			SourceTimestamp: item.LastModified,
			SourceSeq:       item.SeqNum,
		})
	}

	return changes, nil
}
