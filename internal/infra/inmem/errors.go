package inmem

import "errors"

var (
	ErrJobNil        = errors.New("задача не может быть nil")
	ErrIDEmpty       = errors.New("ID не может быть пустым")
	ErrContextDone   = errors.New("отмена контекста")
	ErrLockNameEmpty = errors.New("имя блокировки не может быть пустым")
	ErrHistoryNil    = errors.New("запись истории не может быть nil")
	ErrSnapshotNil   = errors.New("снимок не может быть nil")
)
