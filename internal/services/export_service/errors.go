package export_service

import "errors"

var (
	ErrContextDone  = errors.New("отмена контекста")
	ErrSiteRead     = errors.New("не удалось прочитать базу сайта")
	ErrArchiveBuild = errors.New("не удалось создать архив")
	ErrContentWalk  = errors.New("не удалось обойти каталог контента")
	ErrHistory      = errors.New("не удалось записать историю")
)
