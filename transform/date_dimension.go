package transform

import (
	"sort"

	"github.com/optiflow/eyecare_datamart/models"
)

// DateRowsFor собирает строки измерения дат для всех дат, встречающихся
// в извлеченных данных. Календарь пополняется идемпотентно: уже
// существующие в датамарте даты загрузчик не трогает.
func DateRowsFor(data *models.ExtractedData) []models.DateDimension {
	seen := make(map[int]models.DateDimension)

	add := func(rows ...models.DateDimension) {
		for _, row := range rows {
			seen[row.DateKey] = row
		}
	}

	for _, order := range data.Orders {
		add(models.BuildDateRow(order.OrderDate))
	}
	for _, trans := range data.BillingTransactions {
		add(models.BuildDateRow(trans.TransactionDate))
	}
	for _, trans := range data.POSTransactions {
		add(models.BuildDateRow(trans.TransactionDate))
	}

	rows := make([]models.DateDimension, 0, len(seen))
	for _, row := range seen {
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].DateKey < rows[j].DateKey
	})
	return rows
}
