package annotate

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// YieldFunc вызывается после каждого автоматического шага.
// Ненулевая ошибка останавливает проход.
type YieldFunc func(Progress) error

// RunAutomatic размечает оставшиеся циклы решениями классификатора.
// После каждого цикла управление отдается yield; отмена контекста или
// ошибка yield останавливают проход, и возвращается согласованная сессия
// вместе с ErrCanceled.
func (e *Engine) RunAutomatic(ctx context.Context, s *Session, yield YieldFunc) (*Session, error) {
	if err := e.enter(); err != nil {
		return nil, err
	}
	defer e.leave()

	if s.state != StateReady && s.state != StateStepping {
		return nil, stateError("run automatic", s.state)
	}

	next := s.clone()
	log := e.log.WithFields(logrus.Fields{"cycles": next.CycleCount(), "from": next.count})
	log.Info("Automatic walk started")

	if next.count == 0 {
		if _, err := e.advance(next, DecisionNoBurst); err != nil {
			return nil, err
		}
	}

	for next.state == StateStepping {
		if err := ctx.Err(); err != nil {
			log.WithField("count", next.count).Info("Automatic walk canceled")
			return next, fmt.Errorf("%w: %w", ErrCanceled, err)
		}

		if _, err := e.advance(next, next.classify()); err != nil {
			return next, err
		}

		if yield != nil {
			if err := yield(next.Progress()); err != nil {
				log.WithField("count", next.count).WithError(err).Info("Automatic walk stopped by host")
				return next, fmt.Errorf("%w: %w", ErrCanceled, err)
			}
		}
	}

	log.WithField("records", next.results.Len()).Info("Automatic walk completed")
	return next, nil
}
