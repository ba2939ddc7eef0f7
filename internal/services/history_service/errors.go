package history_service

import "errors"

var (
	ErrContextDone      = errors.New("отмена контекста")
	ErrHistorySave      = errors.New("не удалось сохранить запись истории")
	ErrHistoryGet       = errors.New("не удалось получить запись истории")
	ErrAlreadyFinalized = errors.New("запись истории уже завершена")
	ErrInvalidStatus    = errors.New("некорректный итоговый статус")
)
