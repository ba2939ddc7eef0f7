package import_service

import (
	"errors"
	"fmt"

	"github.com/sunr3d/site-mover/models"
)

var (
	ErrContextDone       = errors.New("контекст завершен")
	ErrInvalidRequest    = errors.New("некорректный запрос импорта")
	ErrInvalidArchive    = errors.New("архив не прошел проверку")
	ErrWrongArchiveType  = errors.New("неподходящий тип архива")
	ErrInvalidMergePlan  = errors.New("некорректный план слияния пользователей")
	ErrActingUserMissing = errors.New("текущий пользователь не найден на сайте")
	ErrNoContentImporter = errors.New("импорт выборочного контента не настроен")
	ErrSnapshot          = errors.New("не удалось создать снимок перед импортом")
	ErrHistory           = errors.New("не удалось записать историю импорта")
	ErrApply             = errors.New("не удалось применить данные")
	ErrExtract           = errors.New("не удалось распаковать файлы")
	ErrUserMerge         = errors.New("не удалось объединить пользователей")
	ErrImportFailed      = errors.New("импорт не удался")
	ErrRollbackFailed    = errors.New("откат не удался")
)

// ImportError reports a failed import together with the outcome of the
// automatic rollback.
type ImportError struct {
	Cause             error
	State             models.ImportState
	SnapshotID        string
	RollbackAttempted bool
	RollbackErr       error
}

func (e *ImportError) Error() string {
	msg := fmt.Sprintf("%s: %v", ErrImportFailed, e.Cause)
	switch {
	case e.RollbackErr != nil:
		msg += fmt.Sprintf("; %s: %v", ErrRollbackFailed, e.RollbackErr)
	case e.RollbackAttempted:
		msg += "; сайт восстановлен из снимка " + e.SnapshotID
	}
	return msg
}

func (e *ImportError) Unwrap() []error {
	errs := []error{ErrImportFailed, e.Cause}
	if e.RollbackErr != nil {
		errs = append(errs, ErrRollbackFailed, e.RollbackErr)
	}
	return errs
}
