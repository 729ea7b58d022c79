package session

import (
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/Krimson/msna-analyzer/analyzer/internal/annotate"
	"github.com/Krimson/msna-analyzer/analyzer/internal/export"
	"github.com/Krimson/msna-analyzer/analyzer/internal/filter"
	"github.com/Krimson/msna-analyzer/analyzer/internal/peaks"
	"github.com/Krimson/msna-analyzer/analyzer/internal/waveform"
)

// HTTPHandler обрабатывает HTTP запросы для управления сессиями (Presentation Layer)
type HTTPHandler struct {
	manager        *Manager
	maxUploadBytes int64
	log            logrus.FieldLogger
}

// NewHTTPHandler создает новый HTTP обработчик
func NewHTTPHandler(manager *Manager, maxUploadBytes int64, log logrus.FieldLogger) *HTTPHandler {
	return &HTTPHandler{
		manager:        manager,
		maxUploadBytes: maxUploadBytes,
		log:            log.WithField("component", "http"),
	}
}

// RegisterRoutes регистрирует маршруты в роутере
func (h *HTTPHandler) RegisterRoutes(router *mux.Router) {
	api := router.PathPrefix("/api/sessions").Subrouter()

	api.HandleFunc("", h.CreateSession).Methods("POST")
	api.HandleFunc("", h.ListSessions).Methods("GET")
	api.HandleFunc("/{id}", h.GetSession).Methods("GET")
	api.HandleFunc("/{id}", h.DeleteSession).Methods("DELETE")
	api.HandleFunc("/{id}/recording", h.ReplaceRecording).Methods("POST")
	api.HandleFunc("/{id}/config", h.Configure).Methods("PUT")
	api.HandleFunc("/{id}/lock", h.Lock).Methods("POST")
	api.HandleFunc("/{id}/unlock", h.Unlock).Methods("POST")
	api.HandleFunc("/{id}/region", h.SetRegion).Methods("PUT")
	api.HandleFunc("/{id}/step", h.Step).Methods("POST")
	api.HandleFunc("/{id}/back", h.Back).Methods("POST")
	api.HandleFunc("/{id}/restart", h.Restart).Methods("POST")
	api.HandleFunc("/{id}/suggestion", h.Suggest).Methods("GET")
	api.HandleFunc("/{id}/auto", h.StartAutomatic).Methods("POST")
	api.HandleFunc("/{id}/auto", h.CancelAutomatic).Methods("DELETE")
	api.HandleFunc("/{id}/results", h.Results).Methods("GET")
	api.HandleFunc("/{id}/save", h.SaveSession).Methods("POST")
}

// CreateSession загружает запись и создает сессию
// @Summary Загрузить запись ECG/BP/MSNA
// @Description Текстовый файл по три числа в строке (ECG BP MSNA), *.gz распаковывается. Сессия создается в состоянии awaiting_config.
// @Tags Sessions
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "Файл записи"
// @Param fs formData number false "Частота дискретизации, Гц"
// @Success 201 {object} SessionResponse
// @Failure 400 {object} map[string]interface{} "Ошибка формата или конфигурации"
// @Router /api/sessions [post]
func (h *HTTPHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	file, name, ok := h.uploadedFile(w, r)
	if !ok {
		return
	}
	defer file.Close()

	fs := 0.0
	if v := r.FormValue("fs"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid fs value")
			return
		}
		fs = parsed
	}

	session, err := h.manager.CreateSession(r.Context(), name, fs, file)
	if err != nil {
		h.fail(w, "create session", err)
		return
	}

	respondJSON(w, http.StatusCreated, SessionResponse{Session: session})
}

// ReplaceRecording заменяет запись в сессии
// @Summary Заменить запись
// @Description Разметка сбрасывается, конфигурация сохраняется
// @Tags Sessions
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "ID сессии"
// @Param file formData file true "Файл записи"
// @Success 200 {object} SessionResponse
// @Failure 400 {object} map[string]interface{}
// @Failure 404 {object} map[string]interface{}
// @Router /api/sessions/{id}/recording [post]
func (h *HTTPHandler) ReplaceRecording(w http.ResponseWriter, r *http.Request) {
	file, name, ok := h.uploadedFile(w, r)
	if !ok {
		return
	}
	defer file.Close()

	session, err := h.manager.ReplaceRecording(r.Context(), mux.Vars(r)["id"], name, file)
	if err != nil {
		h.fail(w, "replace recording", err)
		return
	}
	respondJSON(w, http.StatusOK, SessionResponse{Session: session})
}

// ListSessions возвращает загруженные и сохраненные сессии
// @Summary Список сессий
// @Tags Sessions
// @Produce json
// @Param limit query int false "Лимит" default(50)
// @Param offset query int false "Смещение" default(0)
// @Success 200 {object} map[string]interface{}
// @Router /api/sessions [get]
func (h *HTTPHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	limit := getQueryInt(r, "limit", 50)
	offset := getQueryInt(r, "offset", 0)

	saved, err := h.manager.ListSessions(r.Context(), limit, offset)
	if err != nil {
		h.log.WithError(err).Error("Failed to list sessions")
		respondError(w, http.StatusInternalServerError, "Failed to list sessions")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"active":   h.manager.ActiveSessions(),
		"sessions": saved,
		"limit":    limit,
		"offset":   offset,
		"count":    len(saved),
	})
}

// GetSession получает информацию о сессии
// @Summary Состояние сессии
// @Tags Sessions
// @Produce json
// @Param id path string true "ID сессии"
// @Success 200 {object} SessionResponse
// @Failure 404 {object} map[string]interface{}
// @Router /api/sessions/{id} [get]
func (h *HTTPHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.manager.GetSession(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusNotFound, "Session not found")
		return
	}
	respondJSON(w, http.StatusOK, SessionResponse{Session: session})
}

// Configure меняет конфигурацию анализа
// @Summary Изменить конфигурацию
// @Description Только в состоянии awaiting_config. Незаданные поля не меняются.
// @Tags Annotation
// @Accept json
// @Produce json
// @Param id path string true "ID сессии"
// @Param request body ConfigRequest true "Поля конфигурации"
// @Success 200 {object} SessionResponse
// @Failure 400 {object} map[string]interface{}
// @Failure 409 {object} map[string]interface{}
// @Router /api/sessions/{id}/config [put]
func (h *HTTPHandler) Configure(w http.ResponseWriter, r *http.Request) {
	var req ConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	session, err := h.manager.Configure(r.Context(), mux.Vars(r)["id"], req)
	if err != nil {
		h.fail(w, "configure", err)
		return
	}
	respondJSON(w, http.StatusOK, SessionResponse{Session: session})
}

// Lock фиксирует конфигурацию и находит циклы
// @Summary Зафиксировать конфигурацию
// @Tags Annotation
// @Produce json
// @Param id path string true "ID сессии"
// @Success 200 {object} SessionResponse
// @Failure 409 {object} map[string]interface{}
// @Failure 422 {object} map[string]interface{} "R-пики не найдены или запись слишком коротка"
// @Router /api/sessions/{id}/lock [post]
func (h *HTTPHandler) Lock(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "lock", h.manager.Lock)
}

// Unlock возвращает сессию к настройке
// @Summary Снять фиксацию
// @Tags Annotation
// @Produce json
// @Param id path string true "ID сессии"
// @Success 200 {object} SessionResponse
// @Failure 409 {object} map[string]interface{}
// @Router /api/sessions/{id}/unlock [post]
func (h *HTTPHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "unlock", h.manager.Unlock)
}

// SetRegion задает окно анализа
// @Summary Задать окно анализа
// @Description Смещения в отсчетах от R-пика, обе границы входят в окно
// @Tags Annotation
// @Accept json
// @Produce json
// @Param id path string true "ID сессии"
// @Param request body annotate.Region true "Окно"
// @Success 200 {object} SessionResponse
// @Failure 400 {object} map[string]interface{}
// @Failure 409 {object} map[string]interface{}
// @Router /api/sessions/{id}/region [put]
func (h *HTTPHandler) SetRegion(w http.ResponseWriter, r *http.Request) {
	var region annotate.Region
	if err := json.NewDecoder(r.Body).Decode(&region); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	session, err := h.manager.SetRegion(r.Context(), mux.Vars(r)["id"], region)
	if err != nil {
		h.fail(w, "set region", err)
		return
	}
	respondJSON(w, http.StatusOK, SessionResponse{Session: session})
}

// Step записывает решение оператора и переходит к следующему циклу
// @Summary Шаг разметки
// @Tags Annotation
// @Accept json
// @Produce json
// @Param id path string true "ID сессии"
// @Param request body StepRequest true "Решение: burst, no_burst или error"
// @Success 200 {object} SessionResponse
// @Failure 400 {object} map[string]interface{}
// @Failure 409 {object} map[string]interface{}
// @Router /api/sessions/{id}/step [post]
func (h *HTTPHandler) Step(w http.ResponseWriter, r *http.Request) {
	var req StepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if errors.Is(err, annotate.ErrUnknownDecision) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Decision == nil {
		respondError(w, http.StatusBadRequest, "decision is required")
		return
	}

	session, rec, err := h.manager.Step(r.Context(), mux.Vars(r)["id"], *req.Decision)
	if err != nil {
		h.fail(w, "step", err)
		return
	}
	respondJSON(w, http.StatusOK, SessionResponse{Session: session, Record: rec})
}

// Back отменяет последний шаг
// @Summary Шаг назад
// @Tags Annotation
// @Produce json
// @Param id path string true "ID сессии"
// @Success 200 {object} SessionResponse
// @Failure 409 {object} map[string]interface{}
// @Router /api/sessions/{id}/back [post]
func (h *HTTPHandler) Back(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "back", h.manager.Back)
}

// Restart начинает разметку заново
// @Summary Начать заново
// @Tags Annotation
// @Produce json
// @Param id path string true "ID сессии"
// @Success 200 {object} SessionResponse
// @Failure 409 {object} map[string]interface{}
// @Router /api/sessions/{id}/restart [post]
func (h *HTTPHandler) Restart(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "restart", h.manager.Restart)
}

// Suggest возвращает решение классификатора для текущего цикла
// @Summary Подсказка классификатора
// @Tags Annotation
// @Produce json
// @Param id path string true "ID сессии"
// @Success 200 {object} map[string]interface{}
// @Failure 409 {object} map[string]interface{}
// @Router /api/sessions/{id}/suggestion [get]
func (h *HTTPHandler) Suggest(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]
	d, err := h.manager.Suggest(r.Context(), sessionID)
	if err != nil {
		h.fail(w, "suggest", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": sessionID,
		"decision":   d,
	})
}

// StartAutomatic запускает автоматический проход
// @Summary Автоматическая разметка
// @Description Проход идет в фоне, ход публикуется в /ws?session_id=...
// @Tags Annotation
// @Produce json
// @Param id path string true "ID сессии"
// @Success 202 {object} SessionResponse
// @Failure 409 {object} map[string]interface{}
// @Router /api/sessions/{id}/auto [post]
func (h *HTTPHandler) StartAutomatic(w http.ResponseWriter, r *http.Request) {
	session, err := h.manager.StartAutomatic(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, "start automatic", err)
		return
	}
	respondJSON(w, http.StatusAccepted, SessionResponse{Session: session})
}

// CancelAutomatic останавливает автоматический проход
// @Summary Остановить автоматическую разметку
// @Tags Annotation
// @Produce json
// @Param id path string true "ID сессии"
// @Success 200 {object} SessionResponse
// @Failure 409 {object} map[string]interface{}
// @Router /api/sessions/{id}/auto [delete]
func (h *HTTPHandler) CancelAutomatic(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]
	if err := h.manager.CancelAutomatic(r.Context(), sessionID); err != nil {
		h.fail(w, "cancel automatic", err)
		return
	}

	session, err := h.manager.WaitAutomatic(r.Context(), sessionID)
	if err != nil {
		h.fail(w, "cancel automatic", err)
		return
	}
	respondJSON(w, http.StatusOK, SessionResponse{Session: session})
}

// Results возвращает таблицу результата
// @Summary Таблица результата
// @Description format=tsv отдает таблицу с табуляцией и заголовком
// @Tags Results
// @Produce json
// @Produce text/tab-separated-values
// @Param id path string true "ID сессии"
// @Param format query string false "json или tsv"
// @Success 200 {object} ResultsResponse
// @Failure 404 {object} map[string]interface{}
// @Router /api/sessions/{id}/results [get]
func (h *HTTPHandler) Results(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]
	records, err := h.manager.Results(r.Context(), sessionID)
	if err != nil {
		h.fail(w, "results", err)
		return
	}

	if r.URL.Query().Get("format") == "tsv" {
		w.Header().Set("Content-Type", "text/tab-separated-values")
		w.Header().Set("Content-Disposition", `attachment; filename="`+sessionID+`.tsv"`)
		w.WriteHeader(http.StatusOK)
		if err := export.WriteTSV(w, records); err != nil {
			h.log.WithError(err).WithField("session_id", sessionID).Error("Failed to write TSV")
		}
		return
	}

	if records == nil {
		records = []annotate.BeatRecord{}
	}
	respondJSON(w, http.StatusOK, ResultsResponse{
		SessionID: sessionID,
		Records:   records,
		Count:     len(records),
	})
}

// SaveSession сохраняет сессию в базу данных
// @Summary Сохранить результат
// @Tags Results
// @Accept json
// @Produce json
// @Param id path string true "ID сессии"
// @Param request body SaveSessionRequest false "Заметки"
// @Success 200 {object} SessionResponse
// @Failure 404 {object} map[string]interface{}
// @Failure 409 {object} map[string]interface{}
// @Router /api/sessions/{id}/save [post]
func (h *HTTPHandler) SaveSession(w http.ResponseWriter, r *http.Request) {
	var req SaveSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		// Не критично, если нет body
		req = SaveSessionRequest{}
	}

	session, err := h.manager.SaveSession(r.Context(), mux.Vars(r)["id"], req.Notes)
	if err != nil {
		h.fail(w, "save session", err)
		return
	}
	respondJSON(w, http.StatusOK, SessionResponse{Session: session})
}

// DeleteSession удаляет сессию
// @Summary Удалить сессию
// @Tags Sessions
// @Produce json
// @Param id path string true "ID сессии"
// @Success 200 {object} map[string]interface{}
// @Router /api/sessions/{id} [delete]
func (h *HTTPHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	if err := h.manager.DeleteSession(r.Context(), sessionID); err != nil {
		h.fail(w, "delete session", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"message":    "Session deleted successfully",
		"session_id": sessionID,
	})
}

// transition - общий обработчик операций без тела запроса
func (h *HTTPHandler) transition(w http.ResponseWriter, r *http.Request, op string, fn func(ctx context.Context, id string) (*Session, error)) {
	session, err := fn(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, op, err)
		return
	}
	respondJSON(w, http.StatusOK, SessionResponse{Session: session})
}

func (h *HTTPHandler) uploadedFile(w http.ResponseWriter, r *http.Request) (multipart.File, string, bool) {
	if h.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil { // 32MB в памяти, остальное во временных файлах
		respondError(w, http.StatusBadRequest, "Failed to parse form: "+err.Error())
		return nil, "", false
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "Failed to get file: "+err.Error())
		return nil, "", false
	}
	return file, header.Filename, true
}

// fail переводит ошибку домена в HTTP статус
func (h *HTTPHandler) fail(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	log := h.log.WithError(err).WithField("op", op)
	if status >= http.StatusInternalServerError {
		log.Error("Request failed")
		respondError(w, status, "Failed to "+op)
		return
	}
	log.Debug("Request rejected")
	respondError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, waveform.ErrFormat),
		errors.Is(err, annotate.ErrConfig),
		errors.Is(err, annotate.ErrUnknownDecision):
		return http.StatusBadRequest
	case errors.Is(err, annotate.ErrInvalidState),
		errors.Is(err, annotate.ErrFinished),
		errors.Is(err, annotate.ErrReentrancy):
		return http.StatusConflict
	case errors.Is(err, peaks.ErrNoPeaksFound),
		errors.Is(err, peaks.ErrInsufficientPeaks),
		errors.Is(err, filter.ErrSignalTooShort):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// ===== Утилиты =====

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logrus.WithError(err).Error("Failed to encode JSON response")
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]interface{}{
		"error":  message,
		"status": status,
	})
}

func getQueryInt(r *http.Request, key string, defaultValue int) int {
	valueStr := r.URL.Query().Get(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
