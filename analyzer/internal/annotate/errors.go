package annotate

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig - недопустимая конфигурация анализа
	ErrConfig = errors.New("invalid analysis configuration")
	// ErrInvalidState - операция недоступна в текущем состоянии сессии
	ErrInvalidState = errors.New("operation not allowed in current state")
	// ErrFinished - все циклы уже размечены
	ErrFinished = errors.New("annotation finished")
	// ErrReentrancy - шаг вызван, пока выполняется другой шаг
	ErrReentrancy = errors.New("engine step already in progress")
	// ErrDivisionByZero - нулевой R-R интервал, ЧСС не определена
	ErrDivisionByZero = errors.New("division by zero")
	// ErrCanceled - автоматический проход остановлен до конца записи
	ErrCanceled = errors.New("automatic walk canceled")
	// ErrUnknownDecision - решение вне {burst, no_burst, error}
	ErrUnknownDecision = errors.New("unknown decision")
)

// ConfigError указывает поле конфигурации и причину отказа
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid analysis configuration: %s %s", e.Field, e.Reason)
}

func (e *ConfigError) Is(target error) bool {
	return target == ErrConfig
}

// stateError формирует ошибку недопустимого перехода
func stateError(op string, s State) error {
	if s == StateFinished {
		return fmt.Errorf("%s: %w", op, ErrFinished)
	}
	return fmt.Errorf("%s in state %s: %w", op, s, ErrInvalidState)
}
