package snapshot_service

import "errors"

var (
	ErrContextDone      = errors.New("отмена контекста")
	ErrSnapshotNotFound = errors.New("снимок не найден")
	ErrSnapshotMissing  = errors.New("файл снимка отсутствует на диске")
	ErrSnapshotCreate   = errors.New("не удалось создать снимок")
	ErrSnapshotSave     = errors.New("не удалось сохранить снимок")
	ErrNoRestorer       = errors.New("восстановление снимков не настроено")
	ErrRestore          = errors.New("не удалось восстановить снимок")
)
