package redislock

import "errors"

var (
	ErrEmptyAddress = errors.New("адрес redis не задан")
	ErrContextDone  = errors.New("отмена контекста")
	ErrRedis        = errors.New("ошибка redis")
)
