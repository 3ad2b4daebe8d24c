// routes/api_routes.go
package routes

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/optiflow/eyecare_datamart/models"
	"github.com/optiflow/eyecare_datamart/utils"
)

// RunAPI предоставляет HTTP-интерфейс журнала запусков: состояние
// последних сборок, водяные знаки и архивы отбракованных строк
type RunAPI struct {
	runs   models.RunRepository
	logger *utils.ETLLogger
}

// NewRunAPI создает новый экземпляр RunAPI
func NewRunAPI(runs models.RunRepository, logger *utils.ETLLogger) *RunAPI {
	return &RunAPI{
		runs:   runs,
		logger: logger,
	}
}

// SetupRoutes настраивает маршруты HTTP-интерфейса
func (a *RunAPI) SetupRoutes(router *mux.Router) {
	router.HandleFunc("/api/health", a.handleHealth).Methods("GET")
	router.HandleFunc("/api/runs", a.handleListRuns).Methods("GET")
	router.HandleFunc("/api/runs/last", a.handleLastRun).Methods("GET")
	router.HandleFunc("/api/runs/{id}/rejects", a.handleRunRejects).Methods("GET")
}

func (a *RunAPI) handleHealth(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleListRuns возвращает последние запуски (параметр limit, по умолчанию 20)
func (a *RunAPI) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			a.writeError(w, http.StatusBadRequest, "некорректный параметр limit")
			return
		}
		limit = parsed
	}

	runs, err := a.runs.ListRecent(models.FactGrainRevenue, limit)
	if err != nil {
		a.logger.Error("Ошибка при чтении журнала запусков: %v", err)
		a.writeError(w, http.StatusInternalServerError, "ошибка при чтении журнала запусков")
		return
	}
	a.writeJSON(w, http.StatusOK, runs)
}

// handleLastRun возвращает последний зафиксированный запуск
func (a *RunAPI) handleLastRun(w http.ResponseWriter, r *http.Request) {
	run, err := a.runs.LastCommitted(models.FactGrainRevenue)
	if err != nil {
		a.logger.Error("Ошибка при чтении последнего запуска: %v", err)
		a.writeError(w, http.StatusInternalServerError, "ошибка при чтении последнего запуска")
		return
	}
	if run == nil {
		a.writeError(w, http.StatusNotFound, "зафиксированных запусков еще нет")
		return
	}
	a.writeJSON(w, http.StatusOK, run)
}

// handleRunRejects возвращает архив отбракованных строк запуска
func (a *RunAPI) handleRunRejects(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["id"]

	rows, err := a.runs.LoadRejectedRows(runID)
	if err != nil {
		a.logger.Error("Ошибка при чтении отбракованных строк запуска %s: %v", runID, err)
		a.writeError(w, http.StatusInternalServerError, "ошибка при чтении отбракованных строк")
		return
	}
	if rows == nil {
		rows = []models.RejectedRow{}
	}
	a.writeJSON(w, http.StatusOK, rows)
}

func (a *RunAPI) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		a.logger.Error("Ошибка при сериализации ответа: %v", err)
	}
}

func (a *RunAPI) writeError(w http.ResponseWriter, status int, message string) {
	a.writeJSON(w, status, map[string]string{"error": message})
}
