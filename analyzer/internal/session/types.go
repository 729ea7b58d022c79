package session

import (
	"time"

	"github.com/Krimson/msna-analyzer/analyzer/internal/annotate"
	"github.com/Krimson/msna-analyzer/analyzer/internal/filter"
)

// SessionStatus представляет статус сессии
type SessionStatus string

const (
	SessionStatusActive SessionStatus = "ACTIVE"
	SessionStatusSaved  SessionStatus = "SAVED"
)

// Session - сводка сессии разметки для API, кэша и БД
type Session struct {
	ID          string                `json:"id"`
	FileName    string                `json:"file_name"`
	Status      SessionStatus         `json:"status"`
	State       annotate.State        `json:"state"`
	Samples     int                   `json:"samples"`
	Config      annotate.Config       `json:"config"`
	Region      annotate.Region       `json:"region"`
	Window      *annotate.CycleWindow `json:"window,omitempty"`
	Progress    annotate.Progress     `json:"progress"`
	AutoRunning bool                  `json:"auto_running"`
	CreatedAt   time.Time             `json:"created_at"`
	UpdatedAt   time.Time             `json:"updated_at"`
	SavedAt     *time.Time            `json:"saved_at,omitempty"`
	Notes       string                `json:"notes,omitempty"`
}

// ConfigRequest - частичное изменение конфигурации анализа
type ConfigRequest struct {
	SampleRate      *float64          `json:"fs,omitempty"`
	Baseline        *float64          `json:"baseline,omitempty"`
	ECGTrigger      *float64          `json:"ecg_trigger,omitempty"`
	MSNACalibration *float64          `json:"msna_calibration,omitempty"`
	BPFilter        *filter.BPMode    `json:"bp_filter,omitempty"`
	PhaseMode       *filter.PhaseMode `json:"phase_mode,omitempty"`
	MinPeakDistance *int              `json:"min_peak_distance,omitempty"`
}

// Apply накладывает заданные поля на cfg
func (r ConfigRequest) Apply(cfg annotate.Config) annotate.Config {
	if r.SampleRate != nil {
		cfg.SampleRate = *r.SampleRate
	}
	if r.Baseline != nil {
		cfg.Baseline = *r.Baseline
	}
	if r.ECGTrigger != nil {
		cfg.ECGTrigger = *r.ECGTrigger
	}
	if r.MSNACalibration != nil {
		cfg.MSNACalibration = *r.MSNACalibration
	}
	if r.BPFilter != nil {
		cfg.BPFilter = *r.BPFilter
	}
	if r.PhaseMode != nil {
		cfg.PhaseMode = *r.PhaseMode
	}
	if r.MinPeakDistance != nil {
		cfg.MinPeakDistance = *r.MinPeakDistance
	}
	return cfg
}

// StepRequest - решение оператора по текущему циклу
type StepRequest struct {
	Decision *annotate.Decision `json:"decision"`
}

// SessionResponse представляет ответ с информацией о сессии
type SessionResponse struct {
	Session *Session             `json:"session"`
	Record  *annotate.BeatRecord `json:"record,omitempty"`
}

// ResultsResponse - таблица результатов
type ResultsResponse struct {
	SessionID string                `json:"session_id"`
	Records   []annotate.BeatRecord `json:"records"`
	Count     int                   `json:"count"`
}

// SaveSessionRequest представляет запрос на сохранение сессии
type SaveSessionRequest struct {
	Notes string `json:"notes,omitempty"`
}
