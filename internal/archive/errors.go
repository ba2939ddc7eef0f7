package archive

import "errors"

var (
	ErrIO               = errors.New("ошибка ввода-вывода архива")
	ErrCorruptArchive   = errors.New("архив поврежден")
	ErrUnknownFormat    = errors.New("неизвестный формат архива")
	ErrPayloadCorrupted = errors.New("данные архива повреждены")
	ErrPayloadTooLarge  = errors.New("данные архива превышают допустимый размер")
	ErrEntryNotFound    = errors.New("запись архива не найдена")

	ErrManifestWritten = errors.New("манифест уже записан")
	ErrManifestMissing = errors.New("манифест не записан")
	ErrPayloadWritten  = errors.New("данные уже записаны")
	ErrPayloadMissing  = errors.New("данные не записаны")
	ErrWriterClosed    = errors.New("архив уже закрыт")
	ErrInvalidManifest = errors.New("некорректный манифест")
	ErrUnsafePath      = errors.New("недопустимый путь в архиве")
)
