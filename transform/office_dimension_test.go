package transform_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/optiflow/eyecare_datamart/models"
	"github.com/optiflow/eyecare_datamart/transform"
)

func TestItemTypeChangesCarryItemAttributes(t *testing.T) {
	modified := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	items := []models.OrderItemOLTP{
		{
			OrderNum: "ORD-1", LineNumber: 1, ItemID: 7, ItemTypeID: 3,
			ItemName: "Оправа Aviator", Category: "Оправы",
			Quantity: decimal.NewFromInt(1), Retail: decimal.NewFromFloat(129.99),
			LastModified: modified, SeqNum: 1,
		},
		{
			OrderNum: "ORD-1", LineNumber: 2, ItemID: 0, ItemTypeID: 0,
			LastModified: modified, SeqNum: 2,
		},
	}

	changes, rejected := transform.ItemTypeChanges(items)
	if len(rejected) != 0 {
		t.Fatalf("отбраковок не ожидалось: %v", rejected)
	}
	if len(changes) != 1 {
		t.Fatalf("тип 0 должен пропускаться: изменений %d", len(changes))
	}

	change := changes[0]
	if change.NaturalKey != "3" || change.Attributes["category"] != "Оправы" {
		t.Errorf("некорректное изменение измерения: %+v", change)
	}
	if change.Extra["item_name"] != "Оправа Aviator" || change.Extra["retail"] != "129.99" {
		t.Errorf("товарные атрибуты должны сохраняться в Extra: %+v", change.Extra)
	}
}
