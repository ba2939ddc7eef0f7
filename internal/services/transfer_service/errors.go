package transfer_service

import "errors"

var (
	ErrContextDone = errors.New("отмена контекста")

	ErrJobNotFound          = errors.New("задача передачи не найдена")
	ErrJobCancelled         = errors.New("задача передачи отменена")
	ErrJobNotReady          = errors.New("архив для скачивания еще готовится")
	ErrJobFailed            = errors.New("задача передачи завершилась ошибкой")
	ErrWrongDirection       = errors.New("операция не подходит для направления задачи")
	ErrChunkIndexOutOfRange = errors.New("индекс чанка вне диапазона")
	ErrChunkSize            = errors.New("некорректный размер чанка")
	ErrChecksumMismatch     = errors.New("контрольная сумма не совпадает")
	ErrInvalidChecksum      = errors.New("некорректная контрольная сумма")
	ErrInvalidRequest       = errors.New("некорректный запрос")
	ErrUploadIncomplete     = errors.New("загрузка не завершена")

	ErrJobSave = errors.New("не удалось сохранить задачу")
	ErrIO      = errors.New("ошибка ввода-вывода")
)
