package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	ingestsvc "github.com/ivankudzin/tgvault/internal/services/ingest"
	"github.com/ivankudzin/tgvault/internal/transport/http/dto"
)

type capturingPublisher struct {
	bodies [][]byte
	err    error
}

func (p *capturingPublisher) Publish(_ context.Context, body []byte) error {
	if p.err != nil {
		return p.err
	}
	p.bodies = append(p.bodies, body)
	return nil
}

func postWebhook(t *testing.T, handler *WebhookHandler, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	rr := httptest.NewRecorder()
	handler.Handle(rr, req)
	return rr
}

func assertOKResponse(t *testing.T, rr *httptest.ResponseRecorder) {
	t.Helper()

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: got %d want %d", rr.Code, http.StatusOK)
	}
	var payload dto.WebhookResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !payload.OK {
		t.Fatalf("response must always be ok=true")
	}
}

func TestWebhookEmptyBodyIsSuccessWithoutEnqueue(t *testing.T) {
	publisher := &capturingPublisher{}
	handler := NewWebhookHandler(ingestsvc.NewService(publisher), nil)

	rr := postWebhook(t, handler, "")
	assertOKResponse(t, rr)

	if len(publisher.bodies) != 0 {
		t.Fatalf("empty body must not produce queue messages, got %d", len(publisher.bodies))
	}
}

func TestWebhookEnqueuesBodyVerbatim(t *testing.T) {
	publisher := &capturingPublisher{}
	handler := NewWebhookHandler(ingestsvc.NewService(publisher), nil)

	body := `{"update_id": 42, "message": {"message_id": 1, "chat": {"id": 9}}}`
	rr := postWebhook(t, handler, body)
	assertOKResponse(t, rr)

	if len(publisher.bodies) != 1 {
		t.Fatalf("expected exactly one queue message, got %d", len(publisher.bodies))
	}
	if string(publisher.bodies[0]) != body {
		t.Fatalf("queue message must carry the body verbatim, got %q", publisher.bodies[0])
	}
}

func TestWebhookSwallowsEnqueueFailure(t *testing.T) {
	publisher := &capturingPublisher{err: errors.New("broker unreachable")}
	handler := NewWebhookHandler(ingestsvc.NewService(publisher), nil)

	rr := postWebhook(t, handler, `{"update_id": 1}`)
	assertOKResponse(t, rr)

	if len(publisher.bodies) != 0 {
		t.Fatalf("failed enqueue must produce zero messages")
	}
}
