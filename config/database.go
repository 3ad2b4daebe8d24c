package config

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// DBConnections содержит подключения к базам данных
type DBConnections struct {
	SourceDB *sql.DB
	MartDB   *sql.DB
}

// ConnectDatabases устанавливает подключения к исходной БД и БД датамарта
func ConnectDatabases(config DatamartConfig) (*DBConnections, error) {
	var connections DBConnections
	var err error

	// Подключение к исходной базе данных
	sourceDSN := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		config.SourceConfig.User,
		config.SourceConfig.Password,
		config.SourceConfig.Host,
		config.SourceConfig.Port,
		config.SourceConfig.DBName,
	)

	connections.SourceDB, err = sql.Open(config.SourceConfig.Driver, sourceDSN)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к исходной базе данных: %w", err)
	}

	// Настройка параметров подключения к источнику
	connections.SourceDB.SetMaxOpenConns(10)
	connections.SourceDB.SetMaxIdleConns(5)
	connections.SourceDB.SetConnMaxLifetime(5 * time.Minute)

	// Проверка подключения к источнику
	if err := connections.SourceDB.Ping(); err != nil {
		return nil, fmt.Errorf("не удалось установить соединение с исходной базой данных: %w", err)
	}

	// Подключение к базе данных датамарта
	martDSN := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true",
		config.MartConfig.User,
		config.MartConfig.Password,
		config.MartConfig.Host,
		config.MartConfig.Port,
		config.MartConfig.DBName,
	)

	connections.MartDB, err = sql.Open(config.MartConfig.Driver, martDSN)
	if err != nil {
		// Закрываем первое подключение при ошибке
		connections.SourceDB.Close()
		return nil, fmt.Errorf("ошибка подключения к базе данных датамарта: %w", err)
	}

	// Настройка параметров подключения к датамарту
	connections.MartDB.SetMaxOpenConns(10)
	connections.MartDB.SetMaxIdleConns(5)
	connections.MartDB.SetConnMaxLifetime(5 * time.Minute)

	// Проверка подключения к датамарту
	if err := connections.MartDB.Ping(); err != nil {
		// Закрываем оба подключения при ошибке
		connections.SourceDB.Close()
		connections.MartDB.Close()
		return nil, fmt.Errorf("не удалось установить соединение с базой данных датамарта: %w", err)
	}

	log.Println("Успешное подключение к исходной БД и БД датамарта")
	return &connections, nil
}

// CloseDatabases закрывает подключения к базам данных
func CloseDatabases(connections *DBConnections) {
	if connections.SourceDB != nil {
		if err := connections.SourceDB.Close(); err != nil {
			log.Printf("Ошибка при закрытии соединения с исходной базой данных: %v", err)
		}
	}

	if connections.MartDB != nil {
		if err := connections.MartDB.Close(); err != nil {
			log.Printf("Ошибка при закрытии соединения с базой данных датамарта: %v", err)
		}
	}

	log.Println("Соединения с базами данных закрыты")
}
