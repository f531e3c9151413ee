package chat

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHandleRejectsMissingFields(t *testing.T) {
	t.Parallel()
	h := New()
	req := httptest.NewRequest(http.MethodPost, "/inbound", bytes.NewBufferString(`{"userId":"","text":""}`))
	res := h.Handle(req)
	if res.OK {
		t.Fatalf("Handle() OK = true, want false for missing fields")
	}
	if res.Status != http.StatusBadRequest {
		t.Fatalf("Status = %d, want 400", res.Status)
	}
}

func TestHandleAcceptsValidRequest(t *testing.T) {
	t.Parallel()
	h := New()
	req := httptest.NewRequest(http.MethodPost, "/inbound", bytes.NewBufferString(`{"userId":"u1","text":"hi"}`))
	res := h.Handle(req)
	if !res.OK {
		t.Fatalf("Handle() OK = false, want true")
	}
	if res.Payload.UserID != "u1" || res.Payload.Text != "hi" || res.Payload.Channel != "chat" {
		t.Fatalf("Payload = %+v", res.Payload)
	}
}

func TestWriteReplyShape(t *testing.T) {
	t.Parallel()
	h := New()
	w := httptest.NewRecorder()
	h.WriteReply(w, nil, "42", "req1", "sess1", "u1")
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if body["answer"] != "42" || body["requestId"] != "req1" || body["sessionId"] != "sess1" || body["userId"] != "u1" {
		t.Fatalf("body = %v", body)
	}
}
