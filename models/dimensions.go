package models

import (
	"fmt"
	"time"
)

// SCDPolicy определяет политику медленно меняющегося измерения
type SCDPolicy int

const (
	// SCD1 - перезапись на месте, история не хранится
	SCD1 SCDPolicy = 1
	// SCD2 - версионирование с интервалами действия
	SCD2 SCDPolicy = 2
)

// Имена измерений датамарта
const (
	DimOffice        = "dim_office"
	DimItemType      = "dim_item_type"
	DimPatient       = "dim_patient"
	DimInsurancePlan = "dim_insurance_plan"
	DimEmployee      = "dim_employee"
)

// DimensionRow представляет строку измерения в обобщенной форме.
// Для SCD-1 измерений интервальные поля не используются: строка всегда
// одна на натуральный ключ, effective_to пустой, is_current = true.
type DimensionRow struct {
	SurrogateKey int64             `json:"surrogate_key"`
	NaturalKey   string            `json:"natural_key"`
	Attributes   map[string]string `json:"attributes"`
	// Extra хранит неизвестные атрибуты источника; они не участвуют
	// в сравнении версий
	Extra         map[string]string `json:"extra,omitempty"`
	EffectiveFrom time.Time         `json:"effective_from"`
	EffectiveTo   *time.Time        `json:"effective_to,omitempty"`
	IsCurrent     bool              `json:"is_current"`
	Version       int               `json:"version_number"`
}

// AttributesEqual сравнивает отслеживаемые атрибуты двух строк измерения.
// Extra-атрибуты намеренно игнорируются.
func (r *DimensionRow) AttributesEqual(attrs map[string]string) bool {
	if len(r.Attributes) != len(attrs) {
		return false
	}
	for k, v := range attrs {
		if r.Attributes[k] != v {
			return false
		}
	}
	return true
}

// DimensionChange представляет входящее изменение измерения из источника
type DimensionChange struct {
	NaturalKey      string
	Attributes      map[string]string
	Extra           map[string]string
	SourceTimestamp time.Time
	SourceSeq       int64
}

// AgeGroup возвращает возрастную группу пациента на указанную дату.
// Пустая дата рождения означает, что группа не определена.
func AgeGroup(birthDate, asOf time.Time) string {
	if birthDate.IsZero() {
		return ""
	}
	years := asOf.Year() - birthDate.Year()
	if asOf.YearDay() < birthDate.YearDay() {
		years--
	}
	switch {
	case years < 0:
		return ""
	case years < 18:
		return "0-17"
	case years < 30:
		return "18-29"
	case years < 40:
		return "30-39"
	case years < 50:
		return "40-49"
	case years < 65:
		return "50-64"
	default:
		return "65+"
	}
}

// DateDimension представляет строку измерения дат (календарь с фискальным годом)
type DateDimension struct {
	DateKey       int       `json:"date_key"`
	Date          time.Time `json:"date_value"`
	Year          int       `json:"year"`
	Quarter       int       `json:"quarter"`
	Month         int       `json:"month"`
	MonthName     string    `json:"month_name"`
	Day           int       `json:"day"`
	DayOfWeek     int       `json:"day_of_week"`
	DayName       string    `json:"day_name"`
	WeekOfYear    int       `json:"week_of_year"`
	IsWeekend     bool      `json:"is_weekend"`
	FiscalYear    int       `json:"fiscal_year"`
	FiscalQuarter int       `json:"fiscal_quarter"`
}

// DateKeyOf возвращает ключ даты в формате YYYYMMDD
func DateKeyOf(t time.Time) int {
	return t.Year()*10000 + int(t.Month())*100 + t.Day()
}

// BuildDateRow формирует строку измерения дат для указанного дня.
// Фискальный год начинается с июля.
func BuildDateRow(d time.Time) DateDimension {
	d = time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	_, week := d.ISOWeek()

	fiscalYear := d.Year()
	if int(d.Month()) >= 7 {
		fiscalYear++
	}

	var fiscalQuarter int
	switch {
	case int(d.Month()) >= 7 && int(d.Month()) <= 9:
		fiscalQuarter = 1
	case int(d.Month()) >= 10:
		fiscalQuarter = 2
	case int(d.Month()) <= 3:
		fiscalQuarter = 3
	default:
		fiscalQuarter = 4
	}

	weekday := int(d.Weekday())
	if weekday == 0 {
		weekday = 7
	}

	return DateDimension{
		DateKey:       DateKeyOf(d),
		Date:          d,
		Year:          d.Year(),
		Quarter:       (int(d.Month())-1)/3 + 1,
		Month:         int(d.Month()),
		MonthName:     d.Month().String(),
		Day:           d.Day(),
		DayOfWeek:     weekday,
		DayName:       d.Weekday().String(),
		WeekOfYear:    week,
		IsWeekend:     weekday >= 6,
		FiscalYear:    fiscalYear,
		FiscalQuarter: fiscalQuarter,
	}
}

// NaturalKeyInt форматирует целочисленный натуральный ключ источника
func NaturalKeyInt(id int) string {
	return fmt.Sprintf("%d", id)
}
