package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/HyphaGroup/chatsidecar/internal/config"
	"github.com/HyphaGroup/chatsidecar/internal/sessionregistry"
)

func newTestServer() *Server {
	return New(&config.Config{}, nil, nil, sessionregistry.New(nil), nil, nil, nil)
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/health", http.NoBody)
	rec := httptest.NewRecorder()

	s.handleHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Body.String(); got != `{"status":"ok"}`+"\n" {
		t.Errorf("body = %q", got)
	}
}

func TestHandleChatRejectsMissingSessionHeader(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/chat", http.NoBody)
	rec := httptest.NewRecorder()

	s.handleChat(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestWriteStreamEventWritesSSEFrame(t *testing.T) {
	rec := httptest.NewRecorder()
	ok := writeStreamEvent(rec, rec, "sess-1", "msg-1", "stream-1", 3, "assistant_text", []byte(`{"text":"hi"}`))
	if !ok {
		t.Fatal("writeStreamEvent returned false")
	}
	body := rec.Body.String()
	if body == "" {
		t.Fatal("writeStreamEvent wrote nothing")
	}
	if body[:13] != "event: stream" {
		t.Errorf("body did not start with the stream event name: %q", body)
	}
}
