package batch

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Krimson/msna-analyzer/analyzer/internal/annotate"
	"github.com/Krimson/msna-analyzer/analyzer/internal/config"
)

// Batcher собирает обновления автоматического прохода по сессиям и
// отдает их в sink пачками, чтобы проход не ждал медленных клиентов.
type Batcher struct {
	cfg     *config.Config
	sink    Sink
	log     logrus.FieldLogger
	mu      sync.Mutex
	batches map[string]*currentBatch

	flushChan chan Batch
	stopChan  chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup

	stats struct {
		mu       sync.RWMutex
		received int64
		dropped  int64
		flushed  int64
	}
}

// LogSink пишет батчи в лог
type LogSink struct {
	Log logrus.FieldLogger
}

func (ls *LogSink) Consume(ctx context.Context, b Batch) error {
	last, ok := b.Last()
	if !ok {
		return nil
	}
	ls.Log.WithFields(logrus.Fields{
		"component":  "batch",
		"session_id": b.SessionID,
		"events":     len(b.Events),
		"count":      last.Progress.Count,
		"percent":    last.Progress.Percent,
		"state":      last.Progress.State.String(),
	}).Debug("Progress batch")
	return nil
}

// NewBatcher создает батчер и запускает фоновые горутины
func NewBatcher(cfg *config.Config, sink Sink, log logrus.FieldLogger) *Batcher {
	b := &Batcher{
		cfg:       cfg,
		sink:      sink,
		log:       log.WithField("component", "batch"),
		batches:   make(map[string]*currentBatch),
		flushChan: make(chan Batch, 100),
		stopChan:  make(chan struct{}),
	}

	b.wg.Add(2)
	go b.flushWorker()
	go b.timerFlusher()

	return b
}

// Publish добавляет обновление хода разметки. Финальные состояния
// сбрасываются сразу, остальные - по размеру или по таймеру.
func (b *Batcher) Publish(sessionID string, p annotate.Progress) {
	if sessionID == "" {
		b.incrementDropped()
		b.log.Warn("Progress without session_id dropped")
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	batch, exists := b.batches[sessionID]
	if !exists {
		batch = newCurrentBatch(sessionID)
		b.batches[sessionID] = batch
	}

	batch.addEvent(Event{At: time.Now(), Progress: p})
	b.incrementReceived()

	if p.State == annotate.StateFinished || batch.shouldFlushBySize(b.cfg.ProgressMaxEvents) {
		b.flushBatch(batch)
	}
}

// Flush немедленно сбрасывает накопленное для сессии
func (b *Batcher) Flush(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if batch, ok := b.batches[sessionID]; ok {
		b.flushBatch(batch)
	}
}

func (b *Batcher) flushBatch(batch *currentBatch) {
	if len(batch.Events) == 0 {
		return
	}

	batchCopy := batch.clone()

	batch.reset()

	select {
	case b.flushChan <- batchCopy:
		b.incrementFlushed()
	default:
		b.log.WithField("session_id", batch.SessionID).Warn("Flush channel full, batch dropped")
		b.incrementDropped()
	}
}

func (b *Batcher) flushWorker() {
	defer b.wg.Done()
	for {
		select {
		case batch := <-b.flushChan:
			b.consume(batch)

		case <-b.stopChan:
			// дочищаем очередь
			for {
				select {
				case batch := <-b.flushChan:
					b.consume(batch)
				default:
					return
				}
			}
		}
	}
}

func (b *Batcher) consume(batch Batch) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.sink.Consume(ctx, batch); err != nil {
		b.log.WithError(err).WithField("session_id", batch.SessionID).Error("Failed to consume batch")
	}
}

func (b *Batcher) timerFlusher() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.flushOldBatches()

		case <-b.stopChan:
			return
		}
	}
}

func (b *Batcher) flushOldBatches() {
	now := time.Now()

	b.mu.Lock()
	defer b.mu.Unlock()

	for id, batch := range b.batches {
		if batch.shouldFlushByAge(now, b.cfg.FlushInterval) {
			b.flushBatch(batch)
		}
		if len(batch.Events) == 0 {
			delete(b.batches, id)
		}
	}
}

// Stop сбрасывает все батчи и дожидается их доставки
func (b *Batcher) Stop() {
	b.log.Info("Stopping batcher...")

	b.flushAllBatches()

	b.stopOnce.Do(func() { close(b.stopChan) })
	b.wg.Wait()

	b.logStats()
}

func (b *Batcher) flushAllBatches() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, batch := range b.batches {
		b.flushBatch(batch)
	}
}

// Методы для работы со статистикой
func (b *Batcher) incrementReceived() {
	b.stats.mu.Lock()
	b.stats.received++
	b.stats.mu.Unlock()
}

func (b *Batcher) incrementDropped() {
	b.stats.mu.Lock()
	b.stats.dropped++
	b.stats.mu.Unlock()
}

func (b *Batcher) incrementFlushed() {
	b.stats.mu.Lock()
	b.stats.flushed++
	b.stats.mu.Unlock()
}

func (b *Batcher) logStats() {
	b.stats.mu.RLock()
	defer b.stats.mu.RUnlock()

	b.log.WithFields(logrus.Fields{
		"received": b.stats.received,
		"dropped":  b.stats.dropped,
		"flushed":  b.stats.flushed,
	}).Info("Batcher stats")
}

func (b *Batcher) GetStats() (received, dropped, flushed int64) {
	b.stats.mu.RLock()
	defer b.stats.mu.RUnlock()

	return b.stats.received, b.stats.dropped, b.stats.flushed
}
