package handlers

import (
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	ingestsvc "github.com/ivankudzin/tgvault/internal/services/ingest"
	"github.com/ivankudzin/tgvault/internal/transport/http/dto"
	httperrors "github.com/ivankudzin/tgvault/internal/transport/http/errors"
)

// Telegram update payloads are small; anything larger is not an update.
const maxWebhookBodySize = 1 << 20 // 1 MiB

type WebhookHandler struct {
	service *ingestsvc.Service
	logger  *zap.Logger
}

func NewWebhookHandler(service *ingestsvc.Service, logger *zap.Logger) *WebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{service: service, logger: logger}
}

// Handle acknowledges the webhook with a fixed success response no matter
// what. An enqueue failure is logged and swallowed so Telegram never
// starts its retry/backoff escalation against us; the cost is that such a
// failure loses the update silently.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Warn("read webhook body", zap.Error(err))
		writeWebhookOK(w)
		return
	}

	if len(body) == 0 {
		writeWebhookOK(w)
		return
	}

	if h.service == nil {
		h.logger.Error("ingest service is not configured, dropping update")
		writeWebhookOK(w)
		return
	}

	if err := h.service.Accept(r.Context(), body); err != nil && !errors.Is(err, ingestsvc.ErrEmptyBody) {
		h.logger.Error("enqueue webhook update failed, returning ok to telegram anyway",
			zap.Int("body_size", len(body)),
			zap.Error(err),
		)
	}

	writeWebhookOK(w)
}

func writeWebhookOK(w http.ResponseWriter) {
	httperrors.Write(w, http.StatusOK, dto.WebhookResponse{OK: true})
}
