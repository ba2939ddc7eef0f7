package infra

import "errors"

var (
	ErrNotFound   = errors.New("запись не найдена")
	ErrLockHeld   = errors.New("операция уже выполняется")
	ErrInvalidArg = errors.New("некорректный аргумент")
)
