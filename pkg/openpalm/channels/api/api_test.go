package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHandleExtractsLastUserMessage(t *testing.T) {
	t.Parallel()
	h := New()
	body := `{"model":"m","messages":[{"role":"system","content":"sys"},{"role":"user","content":"first"},{"role":"assistant","content":"reply"},{"role":"user","content":"Hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewBufferString(body))
	res := h.Handle(req)
	if !res.OK {
		t.Fatalf("Handle() OK = false, want true; body=%v", res.Body)
	}
	if res.Payload.Text != "Hi" {
		t.Fatalf("Text = %q, want Hi", res.Payload.Text)
	}
	if res.Payload.Channel != "api" {
		t.Fatalf("Channel = %q, want api", res.Payload.Channel)
	}
}

func TestHandleExtractsArrayContent(t *testing.T) {
	t.Parallel()
	h := New()
	body := `{"messages":[{"role":"user","content":[{"type":"text","text":"a"},{"type":"text","text":"b"}]}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewBufferString(body))
	res := h.Handle(req)
	if !res.OK {
		t.Fatalf("Handle() OK = false, want true")
	}
	if res.Payload.Text != "a\nb" {
		t.Fatalf("Text = %q, want %q", res.Payload.Text, "a\\nb")
	}
}

func TestHandleRejectsEmptyUserContent(t *testing.T) {
	t.Parallel()
	h := New()
	body := `{"messages":[{"role":"user","content":""}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewBufferString(body))
	res := h.Handle(req)
	if res.OK {
		t.Fatalf("Handle() OK = true, want false for empty content")
	}
	if res.Status != http.StatusBadRequest {
		t.Fatalf("Status = %d, want 400", res.Status)
	}
}

func TestWriteReplyMatchesOpenAIShape(t *testing.T) {
	t.Parallel()
	h := New()
	w := httptest.NewRecorder()
	h.WriteReply(w, "gpt-x", "Hello!", "req1", "sess1", "u1")

	var resp struct {
		ID      string `json:"id"`
		Object  string `json:"object"`
		Choices []struct {
			Message struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if resp.Object != "chat.completion" {
		t.Fatalf("object = %q, want chat.completion", resp.Object)
	}
	if len(resp.Choices) != 1 || resp.Choices[0].Message.Content != "Hello!" || resp.Choices[0].Message.Role != "assistant" {
		t.Fatalf("choices = %+v", resp.Choices)
	}
	if resp.Choices[0].FinishReason != "stop" {
		t.Fatalf("finish_reason = %q, want stop", resp.Choices[0].FinishReason)
	}
}
