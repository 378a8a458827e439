package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"vodforge/internal/assembler"
)

// maxDirectUploadMemory bounds how much of a multipart direct upload is
// buffered in memory before spilling to disk.
const maxDirectUploadMemory = 32 << 20

type uploadInitRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	FileName    string `json:"fileName"`
	SizeBytes   int64  `json:"sizeBytes"`
	TotalChunks int    `json:"totalChunks"`
}

type uploadInitResponse struct {
	SessionID   string `json:"sessionId"`
	AssetID     string `json:"assetId"`
	FileName    string `json:"fileName"`
	TotalChunks int    `json:"totalChunks"`
}

type chunkResponse struct {
	Received int  `json:"received"`
	Total    int  `json:"total"`
	Complete bool `json:"complete"`
}

type mergeResponse struct {
	AssetID string `json:"assetId"`
	Status  string `json:"status"`
}

// UploadInit handles POST /api/uploads/init.
func (h *Handler) UploadInit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	var req uploadInitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := h.Assembler.InitSession(r.Context(), assembler.InitRequest{
		Title:        req.Title,
		Description:  req.Description,
		FileName:     req.FileName,
		DeclaredSize: req.SizeBytes,
		TotalChunks:  req.TotalChunks,
	})
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	h.recorder().ObserveUploadEvent("init")
	writeJSON(w, http.StatusCreated, uploadInitResponse{
		SessionID:   result.SessionID,
		AssetID:     result.AssetID,
		FileName:    result.StoredFileName,
		TotalChunks: req.TotalChunks,
	})
}

// UploadByID dispatches the session-scoped upload routes:
//
//	POST /api/uploads/{sessionId}/chunks/{index}
//	POST /api/uploads/{sessionId}/complete
//	GET  /api/uploads/{assetId}/progress
func (h *Handler) UploadByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/uploads/"), "/")
	parts := strings.Split(rest, "/")
	if rest == "" {
		writeError(w, http.StatusNotFound, fmt.Errorf("upload id is required"))
		return
	}

	switch {
	case len(parts) == 3 && parts[1] == "chunks":
		if r.Method != http.MethodPost && r.Method != http.MethodPut {
			writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
			return
		}
		index, err := strconv.Atoi(parts[2])
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("chunk index %q is not a number", parts[2]))
			return
		}
		h.receiveChunk(w, r, parts[0], index)
	case len(parts) == 2 && parts[1] == "complete":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
			return
		}
		h.completeUpload(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "progress":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
			return
		}
		h.uploadProgress(w, r, parts[0])
	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown upload route"))
	}
}

func (h *Handler) receiveChunk(w http.ResponseWriter, r *http.Request, sessionID string, index int) {
	if r.Body == nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("chunk body is required"))
		return
	}
	defer r.Body.Close()

	progress, err := h.Assembler.ReceiveChunk(r.Context(), sessionID, index, r.Body)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	h.recorder().ObserveUploadEvent("chunk")
	writeJSON(w, http.StatusOK, chunkResponse{
		Received: progress.Received,
		Total:    progress.Total,
		Complete: progress.Received == progress.Total,
	})
}

func (h *Handler) completeUpload(w http.ResponseWriter, r *http.Request, sessionID string) {
	job, err := h.Assembler.Merge(r.Context(), sessionID)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	h.recorder().ObserveUploadEvent("merge")
	writeJSON(w, http.StatusAccepted, mergeResponse{AssetID: job.AssetID, Status: "processing"})
}

func (h *Handler) uploadProgress(w http.ResponseWriter, r *http.Request, assetID string) {
	asset, err := h.Store.GetAsset(r.Context(), assetID)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, toAssetResponse(asset))
}

// UploadVideo handles POST /api/uploads/video, the single-request path for
// sources small enough to skip chunking. The file arrives as the multipart
// "video" field; title and description ride alongside as form values.
func (h *Handler) UploadVideo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	if err := r.ParseMultipartForm(maxDirectUploadMemory); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("parse multipart form: %w", err))
		return
	}
	file, header, err := r.FormFile("video")
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("video file is required: %w", err))
		return
	}
	defer file.Close()

	assetID, err := h.Assembler.StoreDirect(r.Context(), assembler.DirectUpload{
		Title:            r.FormValue("title"),
		Description:      r.FormValue("description"),
		OriginalFileName: header.Filename,
		SizeBytes:        header.Size,
	}, file)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	h.recorder().ObserveUploadEvent("direct")
	writeJSON(w, http.StatusAccepted, mergeResponse{AssetID: assetID, Status: "processing"})
}
