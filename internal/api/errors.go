package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/sunr3d/site-mover/internal/archive"
	"github.com/sunr3d/site-mover/internal/interfaces/infra"
	"github.com/sunr3d/site-mover/internal/services/history_service"
	"github.com/sunr3d/site-mover/internal/services/import_service"
	"github.com/sunr3d/site-mover/internal/services/snapshot_service"
	"github.com/sunr3d/site-mover/internal/services/transfer_service"
)

const (
	kindValidation = "Validation"
	kindInternal   = "Internal"
)

var errBadRequest = errors.New("некорректный запрос")

type errorKind struct {
	err    error
	status int
	kind   string
}

// Order matters: an import failure wraps its cause, so the import kinds come
// before the archive and transfer ones.
var errorKinds = []errorKind{
	{import_service.ErrRollbackFailed, http.StatusInternalServerError, "RollbackFailed"},
	{import_service.ErrImportFailed, http.StatusInternalServerError, "ImportFailed"},

	{transfer_service.ErrJobCancelled, http.StatusGone, "JobCancelled"},
	{transfer_service.ErrJobNotFound, http.StatusNotFound, "JobNotFound"},
	{transfer_service.ErrChunkIndexOutOfRange, http.StatusRequestedRangeNotSatisfiable, "ChunkIndexOutOfRange"},
	{transfer_service.ErrJobNotReady, http.StatusConflict, "JobNotReady"},
	{transfer_service.ErrJobFailed, http.StatusConflict, "JobFailed"},
	{transfer_service.ErrChecksumMismatch, http.StatusUnprocessableEntity, "ChecksumMismatch"},
	{transfer_service.ErrIO, http.StatusInternalServerError, "IOError"},

	{infra.ErrLockHeld, http.StatusConflict, "LockHeld"},

	{snapshot_service.ErrSnapshotNotFound, http.StatusNotFound, "SnapshotNotFound"},
	{snapshot_service.ErrSnapshotMissing, http.StatusInternalServerError, "SnapshotMissing"},
	{history_service.ErrHistoryGet, http.StatusNotFound, "HistoryNotFound"},

	{archive.ErrPayloadTooLarge, http.StatusRequestEntityTooLarge, "PayloadTooLarge"},
	{archive.ErrEntryNotFound, http.StatusNotFound, "EntryNotFound"},
	{archive.ErrPayloadCorrupted, http.StatusBadRequest, "PayloadCorrupted"},
	{archive.ErrCorruptArchive, http.StatusBadRequest, "CorruptArchive"},
	{archive.ErrUnknownFormat, http.StatusBadRequest, "CorruptArchive"},
	{archive.ErrIO, http.StatusInternalServerError, "IOError"},

	{errBadRequest, http.StatusBadRequest, kindValidation},
	{transfer_service.ErrInvalidRequest, http.StatusBadRequest, kindValidation},
	{transfer_service.ErrInvalidChecksum, http.StatusBadRequest, kindValidation},
	{transfer_service.ErrChunkSize, http.StatusBadRequest, kindValidation},
	{transfer_service.ErrWrongDirection, http.StatusBadRequest, kindValidation},
	{transfer_service.ErrUploadIncomplete, http.StatusBadRequest, kindValidation},
	{import_service.ErrInvalidRequest, http.StatusBadRequest, kindValidation},
	{import_service.ErrInvalidArchive, http.StatusBadRequest, kindValidation},
	{import_service.ErrWrongArchiveType, http.StatusBadRequest, kindValidation},
	{import_service.ErrInvalidMergePlan, http.StatusBadRequest, kindValidation},
	{import_service.ErrActingUserMissing, http.StatusBadRequest, kindValidation},
	{import_service.ErrNoContentImporter, http.StatusBadRequest, kindValidation},
}

func classify(err error) (int, string) {
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.status, k.kind
		}
	}
	return http.StatusInternalServerError, kindInternal
}

func (h *API) writeError(w http.ResponseWriter, msg string, err error) {
	status, kind := classify(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, zap.String("kind", kind), zap.Error(err))
	} else {
		h.logger.Warn(msg, zap.String("kind", kind), zap.Error(err))
	}
	h.writeJSON(w, status, errorResp{Error: err.Error(), Kind: kind})
}

func (h *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("ошибка кодирования JSON ответа", zap.Error(err))
	}
}

func (h *API) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeError(w, "ошибка парсинга JSON запроса", fmt.Errorf("%w: %v", errBadRequest, err))
		return false
	}
	return true
}
