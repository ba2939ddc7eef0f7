package api

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"

	"github.com/sunr3d/site-mover/models"
)

const defaultHistoryLimit = 50

// POST /import
func (h *API) Import(w http.ResponseWriter, r *http.Request) {
	var req importReq
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if req.JobID == "" {
		h.writeError(w, "некорректный запрос импорта", fmt.Errorf("%w: отсутствует job_id", errBadRequest))
		return
	}

	ctx := r.Context()
	dest := filepath.Join(h.cfg.ImportsDir(), req.JobID+".wpbkp")
	if err := h.transfer.ClaimUpload(ctx, req.JobID, dest); err != nil {
		h.writeError(w, "ошибка получения загруженного архива", err)
		return
	}

	historyID, err := h.importer.StartImport(ctx, models.ImportRequest{
		ArchivePath:   dest,
		MergePlan:     req.MergePlan,
		ActingUser:    req.ActingUser,
		SkipSnapshot:  req.SkipSnapshot,
		DeleteArchive: true,
	})
	if err != nil {
		if rmErr := h.fs.Remove(dest); rmErr != nil {
			h.logger.Warn("не удалось удалить архив импорта", zap.String("path", dest), zap.Error(rmErr))
		}
		h.writeError(w, "ошибка запуска импорта", err)
		return
	}

	h.writeJSON(w, http.StatusAccepted, startedResp{
		HistoryID: historyID,
		StatusURL: "/history/status?history_id=" + historyID,
	})
}

// POST /export
func (h *API) Export(w http.ResponseWriter, r *http.Request) {
	var opts models.ExportOptions
	if !h.decodeJSON(w, r, &opts) {
		return
	}

	res, err := h.exporter.Export(r.Context(), opts)
	if err != nil {
		h.writeError(w, "ошибка экспорта", err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

// GET /snapshots
func (h *API) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	snaps, err := h.snapshots.List(r.Context())
	if err != nil {
		h.writeError(w, "ошибка получения списка снимков", err)
		return
	}
	if snaps == nil {
		snaps = []*models.Snapshot{}
	}
	h.writeJSON(w, http.StatusOK, snaps)
}

// POST /snapshots
func (h *API) CreateSnapshot(w http.ResponseWriter, r *http.Request) {
	var opts models.SnapshotOptions
	if !h.decodeJSON(w, r, &opts) {
		return
	}

	snap, err := h.snapshots.Create(r.Context(), opts)
	if err != nil {
		h.writeError(w, "ошибка создания снимка", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, snap)
}

// DELETE /snapshots?snapshot_id={snapshot_id}
func (h *API) DeleteSnapshot(w http.ResponseWriter, r *http.Request) {
	id, ok := h.queryParam(w, r, "snapshot_id")
	if !ok {
		return
	}

	if err := h.snapshots.Delete(r.Context(), id); err != nil {
		h.writeError(w, "ошибка удаления снимка", err)
		return
	}
	h.writeJSON(w, http.StatusOK, emptyResp{})
}

// POST /snapshots/restore
func (h *API) RestoreSnapshot(w http.ResponseWriter, r *http.Request) {
	var req restoreSnapshotReq
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if req.SnapshotID == "" {
		h.writeError(w, "некорректный запрос восстановления", fmt.Errorf("%w: отсутствует snapshot_id", errBadRequest))
		return
	}

	historyID, err := h.importer.StartRestore(r.Context(), req.SnapshotID)
	if err != nil {
		h.writeError(w, "ошибка запуска восстановления", err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, startedResp{
		HistoryID: historyID,
		StatusURL: "/history/status?history_id=" + historyID,
	})
}

// GET /history?limit={limit}
func (h *API) ListHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.writeError(w, "некорректный лимит", fmt.Errorf("%w: limit=%q", errBadRequest, raw))
			return
		}
		limit = n
	}

	entries, err := h.history.List(r.Context(), limit)
	if err != nil {
		h.writeError(w, "ошибка получения истории", err)
		return
	}
	if entries == nil {
		entries = []*models.HistoryEntry{}
	}
	h.writeJSON(w, http.StatusOK, entries)
}

// GET /history/status?history_id={history_id}
func (h *API) HistoryStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.queryParam(w, r, "history_id")
	if !ok {
		return
	}

	entry, err := h.history.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, "ошибка получения записи истории", err)
		return
	}
	h.writeJSON(w, http.StatusOK, entry)
}
