package sitedb

import "errors"

var (
	ErrContextDone  = errors.New("отмена контекста")
	ErrOpen         = errors.New("ошибка открытия базы сайта")
	ErrQuery        = errors.New("ошибка запроса к базе сайта")
	ErrTableName    = errors.New("некорректное имя таблицы")
	ErrNoColumns    = errors.New("таблица без колонок")
	ErrValueType    = errors.New("неподдерживаемый тип значения")
	ErrTableMissing = errors.New("таблица не найдена")
)
