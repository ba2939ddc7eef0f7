package sqlite

import "errors"

var (
	ErrContextDone = errors.New("отмена контекста")
	ErrOpen        = errors.New("ошибка открытия базы данных")
	ErrMigrate     = errors.New("ошибка миграции схемы")
	ErrQuery       = errors.New("ошибка запроса к базе данных")
	ErrEncode      = errors.New("ошибка кодирования записи")
	ErrIDEmpty     = errors.New("ID не может быть пустым")
)
