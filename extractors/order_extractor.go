package extractors

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/optiflow/eyecare_datamart/models"
	"github.com/optiflow/eyecare_datamart/utils"
)

// OrderExtractor извлекает данные о заказах и строках заказов из исходной БД
type OrderExtractor struct {
	db     *sql.DB
	logger *utils.ETLLogger
}

// NewOrderExtractor создает новый экземпляр OrderExtractor
func NewOrderExtractor(db *sql.DB, logger *utils.ETLLogger) *OrderExtractor {
	return &OrderExtractor{
		db:     db,
		logger: logger,
	}
}

// ExtractOrders извлекает заказы, измененные в окне [low, high)
func (e *OrderExtractor) ExtractOrders(low, high time.Time, batchSize int) ([]models.OrderOLTP, error) {
	e.logger.Debug("Начало извлечения данных о заказах (окно: [%v, %v))", low, high)

	query := `
		SELECT order_num, customer_id, IFNULL(office_num, ''),
		       IFNULL(employee_id, 0), order_date, IFNULL(status_code, ''),
		       last_modified, seq_num
		FROM orders
		WHERE last_modified >= ? AND last_modified < ?
		ORDER BY seq_num
		LIMIT ?
	`

	rows, err := e.db.Query(query, low, high, batchSize)
	if err != nil {
		e.logger.Error("Ошибка при извлечении данных о заказах: %v", err)
		return nil, fmt.Errorf("ошибка запроса заказов: %w", err)
	}
	defer rows.Close()

	var orders []models.OrderOLTP
	for rows.Next() {
		var order models.OrderOLTP
		if err := rows.Scan(
			&order.OrderNum, &order.CustomerID, &order.OfficeNum,
			&order.EmployeeID, &order.OrderDate, &order.StatusCode,
			&order.LastModified, &order.SeqNum,
		); err != nil {
			e.logger.Error("Ошибка при обработке данных заказа: %v", err)
			return nil, fmt.Errorf("ошибка обработки данных заказа: %w", err)
		}
		orders = append(orders, order)
	}

	if err = rows.Err(); err != nil {
		e.logger.Error("Ошибка после итерации по заказам: %v", err)
		return nil, fmt.Errorf("ошибка после итерации по заказам: %w", err)
	}

	e.logger.Debug("Извлечено %d заказов", len(orders))
	return orders, nil
}

// ExtractOrderItems извлекает строки заказов, измененные в окне [low, high)
func (e *OrderExtractor) ExtractOrderItems(low, high time.Time, batchSize int) ([]models.OrderItemOLTP, error) {
	e.logger.Debug("Начало извлечения строк заказов (окно: [%v, %v))", low, high)

	query := `
		SELECT i.order_num, i.line_number, i.item_id, IFNULL(i.item_type_id, 0),
		       IFNULL(i.item_name, ''), IFNULL(t.category, ''),
		       IFNULL(i.quantity, 1), IFNULL(i.retail, 0),
		       i.last_modified, i.seq_num
		FROM order_items i
		LEFT JOIN item_types t ON t.id = i.item_type_id
		WHERE i.last_modified >= ? AND i.last_modified < ?
		ORDER BY i.seq_num
		LIMIT ?
	`

	rows, err := e.db.Query(query, low, high, batchSize)
	if err != nil {
		e.logger.Error("Ошибка при извлечении строк заказов: %v", err)
		return nil, fmt.Errorf("ошибка запроса строк заказов: %w", err)
	}
	defer rows.Close()

	var items []models.OrderItemOLTP
	for rows.Next() {
		var item models.OrderItemOLTP
		if err := rows.Scan(
			&item.OrderNum, &item.LineNumber, &item.ItemID, &item.ItemTypeID,
			&item.ItemName, &item.Category, &item.Quantity, &item.Retail,
			&item.LastModified, &item.SeqNum,
		); err != nil {
			e.logger.Error("Ошибка при обработке строки заказа: %v", err)
			return nil, fmt.Errorf("ошибка обработки строки заказа: %w", err)
		}
		items = append(items, item)
	}

	if err = rows.Err(); err != nil {
		e.logger.Error("Ошибка после итерации по строкам заказов: %v", err)
		return nil, fmt.Errorf("ошибка после итерации по строкам заказов: %w", err)
	}

	e.logger.Debug("Извлечено %d строк заказов", len(items))
	return items, nil
}
