package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Krimson/msna-analyzer/analyzer/internal/annotate"
	"github.com/Krimson/msna-analyzer/analyzer/internal/config"
	"github.com/Krimson/msna-analyzer/analyzer/internal/metrics"
	"github.com/Krimson/msna-analyzer/analyzer/internal/waveform"
)

// Manager управляет сессиями разметки (Application Layer)
type Manager struct {
	cfg        *config.Config
	cache      CacheStore
	repository Repository
	progress   ProgressSink
	metrics    *metrics.Metrics
	log        logrus.FieldLogger

	mu             sync.RWMutex
	activeSessions map[string]*liveSession // Сессии с записью в памяти

	walks sync.WaitGroup
}

// liveSession - загруженная запись и ее движок. mu сериализует операции
// оператора; автоматический проход mu не держит, пока идет, и помечает
// себя через cancel.
type liveSession struct {
	mu     sync.Mutex
	info   Session
	state  *annotate.Session
	engine *annotate.Engine

	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager создает новый менеджер сессий. progress и m могут быть nil.
func NewManager(cfg *config.Config, cache CacheStore, repository Repository, progress ProgressSink, m *metrics.Metrics, log logrus.FieldLogger) *Manager {
	return &Manager{
		cfg:            cfg,
		cache:          cache,
		repository:     repository,
		progress:       progress,
		metrics:        m,
		log:            log.WithField("component", "session"),
		activeSessions: make(map[string]*liveSession),
	}
}

// CreateSession читает запись из r и создает сессию в AwaitingConfig.
// fs <= 0 означает частоту из конфигурации сервиса.
func (m *Manager) CreateSession(ctx context.Context, fileName string, fs float64, r io.Reader) (*Session, error) {
	rec, err := waveform.ReadNamed(r, fileName)
	if err != nil {
		return nil, err
	}

	state, err := m.load(rec, fs)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	ls := &liveSession{
		info: Session{
			ID:        uuid.New().String(),
			FileName:  fileName,
			Status:    SessionStatusActive,
			Samples:   rec.Len(),
			CreatedAt: now,
			UpdatedAt: now,
		},
		state: state,
	}
	ls.engine = annotate.NewEngine(m.log.WithField("session_id", ls.info.ID))

	m.mu.Lock()
	m.activeSessions[ls.info.ID] = ls
	m.mu.Unlock()

	m.metrics.SessionLoaded()

	info := ls.snapshot()
	m.mirror(ctx, info, nil)

	m.log.WithFields(logrus.Fields{
		"session_id": info.ID,
		"file":       fileName,
		"samples":    info.Samples,
		"fs":         info.Config.SampleRate,
	}).Info("Session created")
	return info, nil
}

// load создает состояние с аналитическими настройками сервиса
func (m *Manager) load(rec *waveform.Recording, fs float64) (*annotate.Session, error) {
	cfg := m.cfg.Analysis
	if fs > 0 {
		cfg.SampleRate = fs
	}

	state, err := annotate.LoadRecording(rec, cfg.SampleRate)
	if err != nil {
		return nil, err
	}
	return annotate.WithConfig(state, cfg)
}

// ReplaceRecording загружает новую запись в существующую сессию.
// Разметка сбрасывается, конфигурация оператора сохраняется.
func (m *Manager) ReplaceRecording(ctx context.Context, sessionID, fileName string, r io.Reader) (*Session, error) {
	rec, err := waveform.ReadNamed(r, fileName)
	if err != nil {
		return nil, err
	}

	info, _, err := m.apply(ctx, sessionID, "reload", func(ls *liveSession) (*annotate.Session, *annotate.BeatRecord, error) {
		next, err := annotate.Reload(ls.state, rec)
		if err != nil {
			return nil, nil, err
		}
		ls.info.FileName = fileName
		ls.info.Samples = rec.Len()
		return next, nil, nil
	})
	return info, err
}

// GetSession получает сессию по ID: память, затем Redis, затем PostgreSQL
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	if ls, ok := m.lookup(sessionID); ok {
		ls.mu.Lock()
		defer ls.mu.Unlock()
		return ls.snapshot(), nil
	}

	session, err := m.cache.GetSession(ctx, sessionID)
	if err == nil {
		return session, nil
	}

	return m.repository.GetSession(ctx, sessionID)
}

// ActiveSessions возвращает сводки загруженных сессий, новые первыми
func (m *Manager) ActiveSessions() []*Session {
	m.mu.RLock()
	live := make([]*liveSession, 0, len(m.activeSessions))
	for _, ls := range m.activeSessions {
		live = append(live, ls)
	}
	m.mu.RUnlock()

	out := make([]*Session, 0, len(live))
	for _, ls := range live {
		ls.mu.Lock()
		out = append(out, ls.snapshot())
		ls.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Configure меняет аналитическую конфигурацию до блокировки
func (m *Manager) Configure(ctx context.Context, sessionID string, req ConfigRequest) (*Session, error) {
	info, _, err := m.apply(ctx, sessionID, "configure", func(ls *liveSession) (*annotate.Session, *annotate.BeatRecord, error) {
		next, err := annotate.WithConfig(ls.state, req.Apply(ls.state.Config()))
		return next, nil, err
	})
	return info, err
}

// Lock фиксирует конфигурацию и вычисляет циклы
func (m *Manager) Lock(ctx context.Context, sessionID string) (*Session, error) {
	info, _, err := m.apply(ctx, sessionID, "lock", func(ls *liveSession) (*annotate.Session, *annotate.BeatRecord, error) {
		next, err := ls.engine.LockAndCompute(ls.state)
		return next, nil, err
	})
	return info, err
}

// SetRegion задает окно анализа относительно R-пика
func (m *Manager) SetRegion(ctx context.Context, sessionID string, region annotate.Region) (*Session, error) {
	info, _, err := m.apply(ctx, sessionID, "region", func(ls *liveSession) (*annotate.Session, *annotate.BeatRecord, error) {
		next, err := ls.engine.SetRegion(ls.state, region)
		return next, nil, err
	})
	return info, err
}

// Step продвигает разметку на один цикл с решением оператора
func (m *Manager) Step(ctx context.Context, sessionID string, d annotate.Decision) (*Session, *annotate.BeatRecord, error) {
	return m.apply(ctx, sessionID, "step", func(ls *liveSession) (*annotate.Session, *annotate.BeatRecord, error) {
		return ls.engine.StepManual(ls.state, d)
	})
}

// Back отменяет последний шаг
func (m *Manager) Back(ctx context.Context, sessionID string) (*Session, error) {
	info, _, err := m.apply(ctx, sessionID, "back", func(ls *liveSession) (*annotate.Session, *annotate.BeatRecord, error) {
		next, err := ls.engine.StepBack(ls.state)
		return next, nil, err
	})
	return info, err
}

// Restart сбрасывает разметку к началу
func (m *Manager) Restart(ctx context.Context, sessionID string) (*Session, error) {
	info, _, err := m.apply(ctx, sessionID, "restart", func(ls *liveSession) (*annotate.Session, *annotate.BeatRecord, error) {
		next, err := ls.engine.Restart(ls.state)
		return next, nil, err
	})
	return info, err
}

// Unlock возвращает сессию к настройке конфигурации
func (m *Manager) Unlock(ctx context.Context, sessionID string) (*Session, error) {
	info, _, err := m.apply(ctx, sessionID, "unlock", func(ls *liveSession) (*annotate.Session, *annotate.BeatRecord, error) {
		next, err := ls.engine.Unlock(ls.state)
		return next, nil, err
	})
	return info, err
}

// Suggest возвращает решение классификатора для текущего цикла
func (m *Manager) Suggest(ctx context.Context, sessionID string) (annotate.Decision, error) {
	ls, err := m.live(sessionID)
	if err != nil {
		return annotate.DecisionError, err
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	if ls.cancel != nil {
		return annotate.DecisionError, fmt.Errorf("%w: automatic walk in progress", annotate.ErrReentrancy)
	}
	return ls.engine.Classify(ls.state)
}

// apply выполняет операцию оператора над сессией и сохраняет результат
func (m *Manager) apply(ctx context.Context, sessionID, op string, fn func(*liveSession) (*annotate.Session, *annotate.BeatRecord, error)) (*Session, *annotate.BeatRecord, error) {
	ls, err := m.live(sessionID)
	if err != nil {
		return nil, nil, err
	}

	ls.mu.Lock()
	if ls.cancel != nil {
		ls.mu.Unlock()
		m.metrics.StepError(op)
		return nil, nil, fmt.Errorf("%w: automatic walk in progress", annotate.ErrReentrancy)
	}

	next, rec, err := fn(ls)
	if err != nil {
		ls.mu.Unlock()
		m.metrics.StepError(op)
		m.log.WithError(err).WithFields(logrus.Fields{"session_id": sessionID, "op": op}).Debug("Operation rejected")
		return nil, nil, err
	}

	ls.state = next
	ls.info.UpdatedAt = time.Now()
	info := ls.snapshot()
	records := ls.state.Records()
	ls.mu.Unlock()

	if rec != nil {
		m.metrics.BeatRecorded(rec.Burst.String())
	}
	m.mirror(ctx, info, records)
	return info, rec, nil
}

// StartAutomatic запускает автоматический проход в фоне. Ход публикуется
// в ProgressSink, результат доступен после WaitAutomatic или по GetSession.
func (m *Manager) StartAutomatic(ctx context.Context, sessionID string) (*Session, error) {
	ls, err := m.live(sessionID)
	if err != nil {
		return nil, err
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	if ls.cancel != nil {
		return nil, fmt.Errorf("%w: automatic walk already running", annotate.ErrReentrancy)
	}
	switch st := ls.state.State(); st {
	case annotate.StateReady, annotate.StateStepping:
	case annotate.StateFinished:
		return nil, fmt.Errorf("automatic walk: %w", annotate.ErrFinished)
	default:
		return nil, fmt.Errorf("%w: automatic walk from %s", annotate.ErrInvalidState, st)
	}

	walkCtx, cancel := context.WithCancel(context.Background())
	ls.cancel = cancel
	ls.done = make(chan struct{})

	m.walks.Add(1)
	go m.walk(walkCtx, sessionID, ls, ls.state, ls.done)

	return ls.snapshot(), nil
}

func (m *Manager) walk(ctx context.Context, sessionID string, ls *liveSession, from *annotate.Session, done chan struct{}) {
	defer m.walks.Done()
	defer close(done)

	started := time.Now()
	next, err := ls.engine.RunAutomatic(ctx, from, func(p annotate.Progress) error {
		if m.progress != nil {
			m.progress.Publish(sessionID, p)
		}
		return nil
	})

	outcome := "completed"
	switch {
	case errors.Is(err, annotate.ErrCanceled):
		outcome = "canceled"
	case err != nil:
		outcome = "failed"
		m.log.WithError(err).WithField("session_id", sessionID).Error("Automatic walk failed")
	}

	ls.mu.Lock()
	ls.cancel = nil
	if next != nil {
		ls.state = next
	}
	ls.info.UpdatedAt = time.Now()
	info := ls.snapshot()
	records := ls.state.Records()
	ls.mu.Unlock()

	for _, rec := range records[len(from.Records()):] {
		m.metrics.BeatRecorded(rec.Burst.String())
	}
	m.metrics.WalkFinished(outcome, time.Since(started))

	// финальное состояние после остановки, при завершении его уже отдал yield
	if outcome != "completed" && m.progress != nil {
		m.progress.Publish(sessionID, info.Progress)
	}

	mirrorCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	m.mirror(mirrorCtx, info, records)
}

// CancelAutomatic останавливает автоматический проход после текущего цикла
func (m *Manager) CancelAutomatic(ctx context.Context, sessionID string) error {
	ls, err := m.live(sessionID)
	if err != nil {
		return err
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	if ls.cancel == nil {
		return fmt.Errorf("%w: no automatic walk running", annotate.ErrInvalidState)
	}
	ls.cancel()
	m.log.WithField("session_id", sessionID).Info("Automatic walk cancel requested")
	return nil
}

// WaitAutomatic ждет завершения автоматического прохода, если он идет
func (m *Manager) WaitAutomatic(ctx context.Context, sessionID string) (*Session, error) {
	ls, err := m.live(sessionID)
	if err != nil {
		return nil, err
	}

	ls.mu.Lock()
	done := ls.done
	ls.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.snapshot(), nil
}

// Results возвращает строки результата: из памяти, кэша или БД
func (m *Manager) Results(ctx context.Context, sessionID string) ([]annotate.BeatRecord, error) {
	if ls, ok := m.lookup(sessionID); ok {
		ls.mu.Lock()
		defer ls.mu.Unlock()
		return ls.state.Records(), nil
	}

	if _, err := m.cache.GetSession(ctx, sessionID); err == nil {
		return m.cache.GetRecords(ctx, sessionID)
	}

	if _, err := m.repository.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return m.repository.GetResults(ctx, sessionID)
}

// SaveSession сохраняет сводку и таблицу результата в PostgreSQL
func (m *Manager) SaveSession(ctx context.Context, sessionID string, notes string) (*Session, error) {
	ls, err := m.live(sessionID)
	if err != nil {
		return nil, err
	}

	ls.mu.Lock()
	if ls.cancel != nil {
		ls.mu.Unlock()
		return nil, fmt.Errorf("%w: automatic walk in progress", annotate.ErrReentrancy)
	}

	now := time.Now()
	prev := ls.info
	if notes != "" {
		ls.info.Notes = notes
	}
	ls.info.Status = SessionStatusSaved
	ls.info.SavedAt = &now
	ls.info.UpdatedAt = now
	info := ls.snapshot()
	records := ls.state.Records()

	// Сохраняем в PostgreSQL
	if err := m.repository.SaveResults(ctx, info, records); err != nil {
		ls.info = prev
		ls.mu.Unlock()
		return nil, fmt.Errorf("failed to save session to database: %w", err)
	}
	ls.mu.Unlock()

	m.mirror(ctx, info, records)

	m.log.WithFields(logrus.Fields{
		"session_id": sessionID,
		"records":    len(records),
	}).Info("Session saved to database")
	return info, nil
}

// ListSessions возвращает список сохраненных сессий
func (m *Manager) ListSessions(ctx context.Context, limit, offset int) ([]*Session, error) {
	return m.repository.ListSessions(ctx, limit, offset)
}

// DeleteSession удаляет сессию отовсюду, идущий проход останавливается
func (m *Manager) DeleteSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	ls, wasLive := m.activeSessions[sessionID]
	delete(m.activeSessions, sessionID)
	m.mu.Unlock()

	if wasLive {
		ls.mu.Lock()
		cancel, done := ls.cancel, ls.done
		ls.mu.Unlock()
		if cancel != nil {
			cancel()
			<-done
		}
		m.metrics.SessionClosed()
	}

	// Удаляем из Redis
	if err := m.cache.DeleteSession(ctx, sessionID); err != nil {
		m.log.WithError(err).WithField("session_id", sessionID).Warn("Failed to delete session from cache")
	}

	// Удаляем из PostgreSQL
	if err := m.repository.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session from database: %w", err)
	}

	m.log.WithField("session_id", sessionID).Info("Session deleted")
	return nil
}

// Close останавливает все автоматические проходы и ждет их завершения
func (m *Manager) Close() {
	m.mu.RLock()
	for _, ls := range m.activeSessions {
		ls.mu.Lock()
		if ls.cancel != nil {
			ls.cancel()
		}
		ls.mu.Unlock()
	}
	m.mu.RUnlock()

	m.walks.Wait()
}

func (m *Manager) lookup(sessionID string) (*liveSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ls, ok := m.activeSessions[sessionID]
	return ls, ok
}

// live возвращает загруженную сессию; сохраненная без записи не подходит
func (m *Manager) live(sessionID string) (*liveSession, error) {
	if ls, ok := m.lookup(sessionID); ok {
		return ls, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
}

// mirror обновляет кэш; ошибки Redis не прерывают работу оператора
func (m *Manager) mirror(ctx context.Context, info *Session, records []annotate.BeatRecord) {
	log := m.log.WithField("session_id", info.ID)
	if err := m.cache.SetSession(ctx, info); err != nil {
		log.WithError(err).Warn("Failed to update session in cache")
		return
	}
	if err := m.cache.SetRecords(ctx, info.ID, records); err != nil {
		log.WithError(err).Warn("Failed to update records in cache")
	}
}

// snapshot собирает сводку; вызывающий держит ls.mu
func (ls *liveSession) snapshot() *Session {
	info := ls.info
	info.State = ls.state.State()
	info.Config = ls.state.Config()
	info.Region = ls.state.Region()
	info.Progress = ls.state.Progress()
	info.AutoRunning = ls.cancel != nil
	if info.State == annotate.StateStepping {
		if w, err := ls.state.Window(ls.state.Count()); err == nil {
			info.Window = &w
		}
	}
	return &info
}
