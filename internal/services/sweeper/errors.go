package sweeper

import "errors"

var (
	ErrContextDone = errors.New("контекст завершен")
	ErrSchedule    = errors.New("некорректное расписание очистки")
	ErrStarted     = errors.New("очистка уже запущена")
)
