package utils

import (
	"fmt"
	"log"
	"os"
	"time"
)

// ETLLogger представляет логгер для процесса сборки датамарта
type ETLLogger struct {
	infoLogger  *log.Logger
	errorLogger *log.Logger
	debugLogger *log.Logger
	isVerbose   bool
}

// NewETLLogger создает новый экземпляр логгера
func NewETLLogger(verbose bool) *ETLLogger {
	// Создаем или открываем лог-файл для записи
	currentTime := time.Now().Format("2006-01-02")
	logFileName := fmt.Sprintf("datamart_etl_%s.log", currentTime)

	file, err := os.OpenFile(logFileName, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		log.Fatalf("Не удалось открыть или создать файл лога: %v", err)
	}

	// Инициализируем логгеры для разных уровней
	infoLogger := log.New(file, "INFO: ", log.Ldate|log.Ltime|log.Lshortfile)
	errorLogger := log.New(file, "ERROR: ", log.Ldate|log.Ltime|log.Lshortfile)
	debugLogger := log.New(file, "DEBUG: ", log.Ldate|log.Ltime|log.Lshortfile)

	return &ETLLogger{
		infoLogger:  infoLogger,
		errorLogger: errorLogger,
		debugLogger: debugLogger,
		isVerbose:   verbose,
	}
}

// Info логирует информационное сообщение
func (l *ETLLogger) Info(format string, v ...interface{}) {
	msg := fmt.Sprintf(format, v...)
	l.infoLogger.Println(msg)

	// Также выводим в стандартный вывод
	log.Println("INFO:", msg)
}

// Error логирует сообщение об ошибке
func (l *ETLLogger) Error(format string, v ...interface{}) {
	msg := fmt.Sprintf(format, v...)
	l.errorLogger.Println(msg)

	// Также выводим в стандартный вывод
	log.Println("ERROR:", msg)
}

// Debug логирует отладочное сообщение (только если включен verbose режим)
func (l *ETLLogger) Debug(format string, v ...interface{}) {
	if !l.isVerbose {
		return
	}

	msg := fmt.Sprintf(format, v...)
	l.debugLogger.Println(msg)

	// Также выводим в стандартный вывод
	log.Println("DEBUG:", msg)
}

// LogRunStart логирует начало запуска сборки датамарта
func (l *ETLLogger) LogRunStart(runID string, low, high time.Time) {
	l.Info("Запуск сборки датамарта %s. Окно: [%v, %v)", runID, low, high)
}

// LogExtractStart логирует начало фазы извлечения данных
func (l *ETLLogger) LogExtractStart(low, high time.Time) {
	l.Info("Начало фазы Extract (Извлечение данных). Окно: [%v, %v)", low, high)
}

// LogExtractComplete логирует завершение фазы извлечения данных
func (l *ETLLogger) LogExtractComplete(totalRows int, duration time.Duration) {
	l.Info("Фаза Extract завершена. Извлечено строк: %d. Длительность: %v", totalRows, duration)
}

// LogDimensionVersionChange логирует изменение версии строки измерения
func (l *ETLLogger) LogDimensionVersionChange(dimension, naturalKey, action string, version int) {
	l.Debug("Измерение %s, ключ %s: %s (версия %d)", dimension, naturalKey, action, version)
}

// LogRejectedRow логирует отбракованную строку источника
func (l *ETLLogger) LogRejectedRow(entity, key, reason string) {
	l.Debug("Отбракована строка %s[%s]: %s", entity, key, reason)
}

// LogReconcileOutcome логирует результат сверки контрольных сумм
func (l *ETLLogger) LogReconcileOutcome(passed bool, deltaCount int) {
	if passed {
		l.Info("Сверка контрольных сумм пройдена (%d метрик проверено)", deltaCount)
	} else {
		l.Error("Сверка контрольных сумм НЕ пройдена (%d метрик проверено)", deltaCount)
	}
}

// LogRunCommitted логирует успешную фиксацию запуска
func (l *ETLLogger) LogRunCommitted(runID string, factRows int, duration time.Duration) {
	l.Info("Запуск %s зафиксирован. Фактовых строк: %d. Длительность: %v", runID, factRows, duration)
}

// LogRunFailed логирует неудачное завершение запуска
func (l *ETLLogger) LogRunFailed(runID, reason string) {
	l.Error("Запуск %s завершен с ошибкой: %s", runID, reason)
}
