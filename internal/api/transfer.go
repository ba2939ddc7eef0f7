package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/sunr3d/site-mover/models"
)

// POST /chunk/init
func (h *API) InitUpload(w http.ResponseWriter, r *http.Request) {
	var req models.UploadInit
	if !h.decodeJSON(w, r, &req) {
		return
	}

	job, err := h.transfer.InitUpload(r.Context(), req)
	if err != nil {
		h.writeError(w, "ошибка создания задачи загрузки", err)
		return
	}

	h.writeJSON(w, http.StatusOK, initUploadResp{
		JobID:       job.ID,
		ChunkSize:   job.ChunkSize,
		TotalChunks: job.TotalChunks,
	})
}

// POST /chunk/upload
func (h *API) UploadChunk(w http.ResponseWriter, r *http.Request) {
	var req uploadChunkReq
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if req.JobID == "" || req.Index == nil {
		h.writeError(w, "некорректный запрос чанка", fmt.Errorf("%w: нужны job_id и index", errBadRequest))
		return
	}

	job, err := h.transfer.UploadChunk(r.Context(), req.JobID, *req.Index, req.Chunk)
	if err != nil {
		h.writeError(w, "ошибка приема чанка", err)
		return
	}

	h.writeJSON(w, http.StatusOK, uploadChunkResp{
		Status:   string(job.Status),
		Received: len(job.DoneChunks),
	})
}

// POST /chunk/download/init
func (h *API) InitDownload(w http.ResponseWriter, r *http.Request) {
	var req models.DownloadRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	job, err := h.transfer.InitDownload(r.Context(), req)
	if err != nil {
		h.writeError(w, "ошибка подготовки скачивания", err)
		return
	}
	h.writeJSON(w, http.StatusOK, newJobStatusResp(job))
}

// GET /chunk/status?job_id={job_id}
func (h *API) JobStatus(w http.ResponseWriter, r *http.Request) {
	jobID, ok := h.queryParam(w, r, "job_id")
	if !ok {
		return
	}

	job, err := h.transfer.JobStatus(r.Context(), jobID)
	if err != nil {
		h.writeError(w, "ошибка получения статуса задачи", err)
		return
	}
	h.writeJSON(w, http.StatusOK, newJobStatusResp(job))
}

// GET /chunk/download?job_id={job_id}&index={index}
func (h *API) FetchChunk(w http.ResponseWriter, r *http.Request) {
	jobID, ok := h.queryParam(w, r, "job_id")
	if !ok {
		return
	}
	raw, ok := h.queryParam(w, r, "index")
	if !ok {
		return
	}
	index, err := strconv.Atoi(raw)
	if err != nil {
		h.writeError(w, "некорректный индекс чанка", fmt.Errorf("%w: index=%q", errBadRequest, raw))
		return
	}

	data, err := h.transfer.FetchChunk(r.Context(), jobID, index)
	if err != nil {
		h.writeError(w, "ошибка выдачи чанка", err)
		return
	}
	h.writeJSON(w, http.StatusOK, chunkResp{Index: index, Chunk: data})
}

// POST /chunk/cancel
func (h *API) CancelJob(w http.ResponseWriter, r *http.Request) {
	var req cancelJobReq
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if req.JobID == "" {
		h.writeError(w, "некорректный запрос отмены", fmt.Errorf("%w: отсутствует job_id", errBadRequest))
		return
	}

	if err := h.transfer.CancelJob(r.Context(), req.JobID); err != nil {
		h.writeError(w, "ошибка отмены задачи", err)
		return
	}
	h.writeJSON(w, http.StatusOK, emptyResp{})
}

func (h *API) queryParam(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		h.writeError(w, "некорректный запрос", fmt.Errorf("%w: отсутствует %s", errBadRequest, name))
		return "", false
	}
	return v, true
}
