package batch

import (
	"context"
	"time"

	"github.com/Krimson/msna-analyzer/analyzer/internal/annotate"
)

// Event - одно обновление хода разметки
type Event struct {
	At       time.Time         // Время получения
	Progress annotate.Progress // Состояние после шага
}

// Batch представляет собранный батч обновлений одной сессии
type Batch struct {
	SessionID string  // Идентификатор сессии
	Events    []Event // Обновления в порядке поступления
}

// Last возвращает последнее обновление батча
func (b Batch) Last() (Event, bool) {
	if len(b.Events) == 0 {
		return Event{}, false
	}
	return b.Events[len(b.Events)-1], true
}

// Sink интерфейс для обработки готовых батчей
type Sink interface {
	Consume(ctx context.Context, b Batch) error
}

// MultiSink раздает батч всем sink по очереди и возвращает первую ошибку
type MultiSink []Sink

func (ms MultiSink) Consume(ctx context.Context, b Batch) error {
	var first error
	for _, s := range ms {
		if err := s.Consume(ctx, b); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// currentBatch - внутренняя структура для отслеживания текущего состояния батча
type currentBatch struct {
	Batch
	firstAdded time.Time // Время первого события в батче
}

// newCurrentBatch создает новый текущий батч
func newCurrentBatch(sessionID string) *currentBatch {
	return &currentBatch{
		Batch: Batch{
			SessionID: sessionID,
			Events:    make([]Event, 0),
		},
	}
}

// addEvent добавляет событие в текущий батч
func (cb *currentBatch) addEvent(ev Event) {
	if len(cb.Events) == 0 {
		cb.firstAdded = ev.At
	}
	cb.Events = append(cb.Events, ev)
}

// shouldFlushBySize проверяет, нужно ли сбросить батч по размеру
func (cb *currentBatch) shouldFlushBySize(maxEvents int) bool {
	return len(cb.Events) >= maxEvents
}

// shouldFlushByAge проверяет, пролежал ли батч дольше интервала
func (cb *currentBatch) shouldFlushByAge(now time.Time, interval time.Duration) bool {
	if len(cb.Events) == 0 {
		return false
	}
	return now.Sub(cb.firstAdded) >= interval
}

// clone создает копию батча для отправки в sink
func (cb *currentBatch) clone() Batch {
	eventsCopy := make([]Event, len(cb.Events))
	copy(eventsCopy, cb.Events)

	return Batch{
		SessionID: cb.SessionID,
		Events:    eventsCopy,
	}
}

// reset очищает батч для переиспользования
func (cb *currentBatch) reset() {
	cb.Events = cb.Events[:0] // Сохраняем capacity
	cb.firstAdded = time.Time{}
}
