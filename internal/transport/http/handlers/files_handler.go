package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	filessvc "github.com/ivankudzin/tgvault/internal/services/files"
	"github.com/ivankudzin/tgvault/internal/transport/http/dto"
	httperrors "github.com/ivankudzin/tgvault/internal/transport/http/errors"
)

type FilesHandler struct {
	service *filessvc.Service
	logger  *zap.Logger
}

func NewFilesHandler(service *filessvc.Service, logger *zap.Logger) *FilesHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FilesHandler{service: service, logger: logger}
}

func (h *FilesHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		httperrors.Write(w, http.StatusInternalServerError, httperrors.APIError{
			Code:    "FILES_SERVICE_UNAVAILABLE",
			Message: "files service is unavailable",
		})
		return
	}

	chatID, err := strconv.ParseInt(chi.URLParam(r, "chatID"), 10, 64)
	if err != nil || chatID == 0 {
		httperrors.Write(w, http.StatusBadRequest, httperrors.APIError{
			Code:    "VALIDATION_ERROR",
			Message: "chat id must be a non-zero integer",
		})
		return
	}

	views, err := h.service.ListStoredFiles(r.Context(), chatID)
	if err != nil {
		if errors.Is(err, filessvc.ErrValidation) {
			httperrors.Write(w, http.StatusBadRequest, httperrors.APIError{
				Code:    "VALIDATION_ERROR",
				Message: "invalid files request",
			})
			return
		}
		h.logger.Error("list stored files", zap.Int64("chat_id", chatID), zap.Error(err))
		httperrors.Write(w, http.StatusInternalServerError, httperrors.APIError{
			Code:    "INTERNAL_ERROR",
			Message: "list files failed",
		})
		return
	}

	items := make([]dto.FileResponse, 0, len(views))
	for _, view := range views {
		items = append(items, dto.FileResponse{
			FileName:  view.FileName,
			MimeType:  view.MimeType,
			ObjectKey: view.ObjectKey,
			URL:       view.URL,
			CreatedAt: view.CreatedAt,
		})
	}

	httperrors.Write(w, http.StatusOK, dto.FilesListResponse{Items: items})
}
