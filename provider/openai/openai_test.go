package openai_provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
)

func newMockedClient(t *testing.T) *client {
	t.Helper()
	hc := &http.Client{}
	httpmock.ActivateNonDefault(hc)
	t.Cleanup(httpmock.DeactivateAndReset)
	return NewOpenAIClient(Config{APIKey: "sk-test", BaseURL: "https://llm.example.com/v1/", Model: "gpt-4o-mini", Temperature: 0.2, MaxTokens: 64, HTTPClient: hc})
}

func TestCompleteSendsChatRequest(t *testing.T) {
	c := newMockedClient(t)
	httpmock.RegisterResponder(http.MethodPost, "https://llm.example.com/v1/chat/completions",
		func(req *http.Request) (*http.Response, error) {
			if got := req.Header.Get("Authorization"); got != "Bearer sk-test" {
				t.Errorf("unexpected auth header %q", got)
			}
			var body request
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				t.Errorf("decode body: %v", err)
			}
			if body.Model != "gpt-4o-mini" || len(body.Messages) != 1 || body.Messages[0].Content != "plan: white t shirt" {
				t.Errorf("unexpected request %+v", body)
			}
			return httpmock.NewJsonResponse(200, map[string]any{
				"choices": []map[string]any{{"message": map[string]any{"content": "  white t-shirt men \n"}}},
			})
		})

	got, err := c.Complete(context.Background(), "plan: white t shirt")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got != "white t-shirt men" {
		t.Fatalf("unexpected completion %q", got)
	}
}

func TestCompleteReportsStatus(t *testing.T) {
	c := newMockedClient(t)
	httpmock.RegisterResponder(http.MethodPost, "https://llm.example.com/v1/chat/completions",
		httpmock.NewStringResponder(429, `{"error":{"message":"slow down","type":"rate_limit"}}`))

	_, err := c.Complete(context.Background(), "x")
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if se.Code != 429 || se.Message != "slow down" || !se.Temporary() {
		t.Fatalf("unexpected status error %+v", se)
	}
}

func TestCompleteRejectsEmptyChoices(t *testing.T) {
	c := newMockedClient(t)
	httpmock.RegisterResponder(http.MethodPost, "https://llm.example.com/v1/chat/completions",
		httpmock.NewStringResponder(200, `{"choices":[]}`))
	if _, err := c.Complete(context.Background(), "x"); err == nil {
		t.Fatalf("expected error for empty choices")
	}
}
