// main.go
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/gorilla/mux"

	"github.com/optiflow/eyecare_datamart/config"
	"github.com/optiflow/eyecare_datamart/extractors"
	"github.com/optiflow/eyecare_datamart/load"
	"github.com/optiflow/eyecare_datamart/models"
	"github.com/optiflow/eyecare_datamart/reconcile"
	"github.com/optiflow/eyecare_datamart/routes"
	"github.com/optiflow/eyecare_datamart/runner"
	"github.com/optiflow/eyecare_datamart/utils"
)

func main() {
	mode := flag.String("mode", "once", "режим работы: once | scheduled | serve")
	configPath := flag.String("config", "", "путь к файлу конфигурации (JSON)")
	flag.Parse()

	cfg, err := config.GetConfig(*configPath)
	if err != nil {
		log.Fatalf("❌ Не удалось загрузить конфигурацию: %v", err)
	}

	logger := utils.NewETLLogger(cfg.EnableDetailedLogging)
	logger.Info("Запуск движка сборки датамарта (режим: %s)", *mode)

	// Подключаемся к исходной БД и БД датамарта
	connections, err := config.ConnectDatabases(cfg)
	if err != nil {
		log.Fatalf("❌ Не удалось подключиться к базам данных: %v", err)
	}
	defer config.CloseDatabases(connections)

	// Проверяем/создаем схему датамарта и журнал запусков
	runRepo := models.NewMySQLRunRepository(connections.MartDB)
	if err := runRepo.CreateRunTables(); err != nil {
		log.Fatalf("❌ Не удалось создать таблицы журнала запусков: %v", err)
	}
	manager := load.NewLoadManager(connections.MartDB, logger)
	if err := manager.CreateMartTables(); err != nil {
		log.Fatalf("❌ Не удалось создать таблицы датамарта: %v", err)
	}

	// Собираем конвейер запуска
	extractor := extractors.NewExtractor(connections.SourceDB, logger, cfg.BatchSize)
	sourceTotals := reconcile.NewMySQLSourceTotals(connections.SourceDB, logger)
	reconciler := reconcile.NewReconciler(sourceTotals, logger, cfg.ReconciliationTolerance)
	datamartRunner := runner.NewRunner(extractor, manager, runRepo, reconciler,
		logger, cfg.WorkerCount, cfg.RejectionThreshold)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	switch *mode {
	case "once":
		run, err := datamartRunner.RunOnce(ctx)
		if err != nil {
			log.Fatalf("❌ Запуск сборки завершился ошибкой: %v", err)
		}
		logger.Info("Сборка завершена. Запуск %s: фактов %d, отбраковано %d",
			run.ID, run.FactRowsBuilt, run.RejectedRowCount)

	case "scheduled":
		scheduler := runner.NewScheduler(datamartRunner, logger, cfg.RunInterval)
		if err := scheduler.Start(ctx); err != nil {
			log.Fatalf("❌ Не удалось запустить планировщик: %v", err)
		}

		<-stop
		log.Println("⚠️ Получен сигнал завершения, останавливаем планировщик...")
		cancel()
		scheduler.Stop()

	case "serve":
		scheduler := runner.NewScheduler(datamartRunner, logger, cfg.RunInterval)
		if err := scheduler.Start(ctx); err != nil {
			log.Fatalf("❌ Не удалось запустить планировщик: %v", err)
		}

		// HTTP-интерфейс журнала запусков
		router := mux.NewRouter()
		api := routes.NewRunAPI(runRepo, logger)
		api.SetupRoutes(router)

		server := &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		go func() {
			log.Printf("✅ HTTP-интерфейс запущен на %s", server.Addr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("❌ Ошибка запуска HTTP-интерфейса: %v", err)
			}
		}()

		<-stop
		log.Println("⚠️ Получен сигнал завершения, останавливаем сервисы...")
		cancel()
		scheduler.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("❌ Ошибка остановки HTTP-интерфейса: %v", err)
		}

	default:
		log.Fatalf("❌ Неизвестный режим: %s", *mode)
	}

	log.Println("👋 Движок сборки датамарта остановлен")
}
