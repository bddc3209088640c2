package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	"textvault/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// FileHandler 提供上传与按 id 取回文本文件的 HTTP 端点。
type FileHandler struct {
	service       *service.FileService
	logger        *zap.Logger
	maxUploadSize int64
}

// NewFileHandler 创建处理器，maxUploadSize<=0 时使用默认上限。
func NewFileHandler(s *service.FileService, maxUploadSize int64, logger *zap.Logger) *FileHandler {
	if maxUploadSize <= 0 {
		maxUploadSize = defaultMaxUploadBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileHandler{service: s, logger: logger, maxUploadSize: maxUploadSize}
}

func (h *FileHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/files", func(r chi.Router) {
		r.Post("/", h.UploadFile)
		r.Get("/{id}", h.DownloadFile)
		r.Get("/{id}/meta", h.GetFileMeta)
	})
}

type envelope struct {
	Data any `json:"data"`
}

type errorEnvelope struct {
	Error string `json:"error"`
}

// UploadResponse 是上传成功的响应体。
type UploadResponse struct {
	ID           string `json:"id"`
	Deduplicated bool   `json:"deduplicated"`
}

const (
	defaultMaxUploadBytes int64 = 10 * 1024 * 1024
	// multipart 边界与表单头的额外预算
	multipartOverhead     int64 = 1024 * 1024
	multipartMemoryBudget int64 = 8 * 1024 * 1024
)

// UploadFile 接受 multipart/form-data 的 file 字段，返回内容对应的稳定 id。
// 新建记录返回 201，命中已有内容返回 200。
func (h *FileHandler) UploadFile(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		writeError(w, http.StatusInternalServerError, "handler not initialized")
		return
	}
	if r.Body == nil {
		writeError(w, http.StatusBadRequest, "request body is empty")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize+multipartOverhead)
	defer r.Body.Close()

	if err := r.ParseMultipartForm(multipartMemoryBudget); err != nil {
		if isBodyTooLarge(err) {
			writeError(w, http.StatusRequestEntityTooLarge, h.tooLargeMessage())
			return
		}
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid multipart form: %v", err))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	if header.Size > h.maxUploadSize {
		writeError(w, http.StatusRequestEntityTooLarge, h.tooLargeMessage())
		return
	}

	content, err := io.ReadAll(io.LimitReader(file, h.maxUploadSize+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unable to read uploaded file")
		return
	}
	if int64(len(content)) > h.maxUploadSize {
		writeError(w, http.StatusRequestEntityTooLarge, h.tooLargeMessage())
		return
	}

	result, err := h.service.Submit(r.Context(), service.SubmitInput{
		DisplayName: header.Filename,
		Content:     content,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	status := http.StatusCreated
	if result.Deduplicated {
		status = http.StatusOK
	}
	writeJSON(w, status, UploadResponse{ID: result.Record.ID, Deduplicated: result.Deduplicated})
}

// DownloadFile 以附件形式返回文件原始字节与首次上传时的文件名。
func (h *FileHandler) DownloadFile(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		writeError(w, http.StatusInternalServerError, "handler not initialized")
		return
	}

	file, err := h.service.Resolve(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	defer file.Content.Close()

	w.Header().Set("Content-Type", service.ContentType)
	w.Header().Set("Content-Disposition", contentDisposition(file.Record.DisplayName))
	w.Header().Set("Content-Length", strconv.FormatInt(file.Record.SizeBytes, 10))
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, file.Content); err != nil {
		// 响应头已发出，只能记录
		h.logger.Warn("download interrupted",
			zap.String("id", file.Record.ID),
			zap.Error(err),
		)
	}
}

// GetFileMeta 返回单个文件的元数据。
func (h *FileHandler) GetFileMeta(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		writeError(w, http.StatusInternalServerError, "handler not initialized")
		return
	}

	record, err := h.service.Stat(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, envelope{Data: record})
}

func (h *FileHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, h.tooLargeMessage())
	case errors.Is(err, service.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrBlobMissing):
		// 记录存在但内容缺失，服务层已记录完整性异常
		writeError(w, http.StatusNotFound, "file content not found")
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, "file not found")
	default:
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal storage error")
	}
}

func (h *FileHandler) tooLargeMessage() string {
	return fmt.Sprintf("file exceeds size limit (%d bytes)", h.maxUploadSize)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorEnvelope{Error: message})
}

func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}

// contentDisposition 按 RFC 6266 编码文件名，非 ASCII 名称使用 filename*。
func contentDisposition(name string) string {
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": name}); v != "" {
		return v
	}
	return "attachment"
}
