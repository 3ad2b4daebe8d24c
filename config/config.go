package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// DatamartConfig содержит конфигурацию движка сборки датамарта
type DatamartConfig struct {
	// Конфигурация для подключения к исходной БД (OLTP)
	SourceConfig DatabaseConfig `json:"source_config"`

	// Конфигурация для подключения к БД датамарта
	MartConfig DatabaseConfig `json:"mart_config"`

	// Интервал запуска сборки по расписанию
	RunInterval time.Duration `json:"run_interval"`

	// Максимальное количество записей, извлекаемых за один запуск
	BatchSize int `json:"batch_size"`

	// Количество воркеров для параллельной конформации и сборки фактов
	WorkerCount int `json:"worker_count"`

	// Порог отбраковки: доля отбракованных строк партии, при превышении
	// которой запуск завершается фатально
	RejectionThreshold float64 `json:"rejection_threshold"`

	// Допуск относительного расхождения при сверке контрольных сумм
	ReconciliationTolerance float64 `json:"reconciliation_tolerance"`

	// Адрес HTTP-интерфейса журнала запусков
	HTTPAddr string `json:"http_addr"`

	// Включение/отключение подробного логирования
	EnableDetailedLogging bool `json:"enable_detailed_logging"`
}

// DatabaseConfig содержит настройки подключения к базе данных
type DatabaseConfig struct {
	Driver   string `json:"driver"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
}

// Значения конфигурации по умолчанию
var (
	DefaultSourceConfig = DatabaseConfig{
		Driver: "mysql",
		Host:   "localhost",
		Port:   3306,
		User:   "root",
		DBName: "eyecare_oltp",
	}

	DefaultMartConfig = DatabaseConfig{
		Driver: "mysql",
		Host:   "localhost",
		Port:   3306,
		User:   "root",
		DBName: "eyecare_datamart",
	}

	DefaultDatamartConfig = DatamartConfig{
		SourceConfig:            DefaultSourceConfig,
		MartConfig:              DefaultMartConfig,
		RunInterval:             1 * time.Hour,
		BatchSize:               50000,
		WorkerCount:             4,
		RejectionThreshold:      0.05,
		ReconciliationTolerance: 0.001,
		HTTPAddr:                ":8090",
		EnableDetailedLogging:   true,
	}
)

// GetConfig возвращает конфигурацию движка.
// Если указан путь к файлу конфигурации, значения по умолчанию
// перекрываются значениями из файла.
func GetConfig(path string) (DatamartConfig, error) {
	config := DefaultDatamartConfig

	if path == "" {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("ошибка при чтении файла конфигурации %s: %w", path, err)
	}

	if err := json.Unmarshal(data, &config); err != nil {
		return config, fmt.Errorf("ошибка при разборе файла конфигурации %s: %w", path, err)
	}

	if config.WorkerCount < 1 {
		config.WorkerCount = 1
	}
	if config.RejectionThreshold <= 0 {
		config.RejectionThreshold = DefaultDatamartConfig.RejectionThreshold
	}
	if config.ReconciliationTolerance <= 0 {
		config.ReconciliationTolerance = DefaultDatamartConfig.ReconciliationTolerance
	}

	return config, nil
}
