package composeapi

import (
	"net/http"
	"strings"
	"testing"
)

func TestClassifyIntent(t *testing.T) {
	cases := []struct {
		content string
		want    string
	}{
		{"Please compose a new system for me", "compose"},
		{"scaffold a SaaS app", "compose"},
		{"Can you create system demo-x?", "compose"},
		{"list templates in the backend category", "list_templates"},
		{"show templates please", "list_templates"},
		{"what is your status?", "health"},
		{"health check", "health"},
		{"tell me a joke", "general"},
		{"", "general"},
		// First rule wins when several match.
		{"create system status report", "compose"},
		{"show templates health", "list_templates"},
		// Case-insensitive.
		{"SCAFFOLD IT NOW", "compose"},
	}

	for _, tc := range cases {
		if got := classifyIntent(tc.content); got != tc.want {
			t.Errorf("classifyIntent(%q) = %q, want %q", tc.content, got, tc.want)
		}
	}
}

func TestHandleChat_IntentRouting(t *testing.T) {
	srv := registerHandlers(setupTestComponent(t))
	defer srv.Close()
	url := srv.URL + "/api/v1/chat"

	cases := []struct {
		name    string
		content string
		intent  string
		expect  string
	}{
		{"compose", "compose a system", "compose", "/compose"},
		{"templates", "list templates", "list_templates", "template categories"},
		{"health", "what's the status", "health", ServiceName},
		{"general", "hello there", "general", "compose repositories"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := postJSON(t, url, chatRequest{
				Messages: []chatMessage{{Role: "user", Content: tc.content}},
			})
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("expected 200, got %d", resp.StatusCode)
			}
			var body chatResponse
			decodeBody(t, resp, &body)

			if body.Intent != tc.intent {
				t.Errorf("intent %q, want %q", body.Intent, tc.intent)
			}
			if len(body.Choices) != 1 {
				t.Fatalf("expected 1 choice, got %d", len(body.Choices))
			}
			if !strings.Contains(body.Choices[0].Message.Content, tc.expect) {
				t.Errorf("reply %q does not mention %q", body.Choices[0].Message.Content, tc.expect)
			}
			if body.Choices[0].Message.Role != "assistant" {
				t.Errorf("role %q", body.Choices[0].Message.Role)
			}
			if body.Choices[0].FinishReason != "stop" {
				t.Errorf("finish_reason %q", body.Choices[0].FinishReason)
			}
		})
	}
}

func TestHandleChat_ResponseShape(t *testing.T) {
	srv := registerHandlers(setupTestComponent(t))
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/api/v1/chat", chatRequest{
		Model:    "gpt-4o",
		Messages: []chatMessage{{Role: "user", Content: "hello there friend"}},
	})
	var body chatResponse
	decodeBody(t, resp, &body)

	if !strings.HasPrefix(body.ID, "chatcmpl-") {
		t.Errorf("id %q", body.ID)
	}
	if body.Object != "chat.completion" {
		t.Errorf("object %q", body.Object)
	}
	if body.Created == 0 {
		t.Error("created missing")
	}
	if body.Model != "gpt-4o" {
		t.Errorf("model must echo the request, got %q", body.Model)
	}

	// Usage approximates tokens by word count.
	if body.Usage.PromptTokens != 3 {
		t.Errorf("prompt_tokens = %d, want 3", body.Usage.PromptTokens)
	}
	completion := len(strings.Fields(body.Choices[0].Message.Content))
	if body.Usage.CompletionTokens != completion {
		t.Errorf("completion_tokens = %d, want %d", body.Usage.CompletionTokens, completion)
	}
	if body.Usage.TotalTokens != body.Usage.PromptTokens+body.Usage.CompletionTokens {
		t.Error("total_tokens must be the sum")
	}
}

func TestHandleChat_DefaultsModelToService(t *testing.T) {
	srv := registerHandlers(setupTestComponent(t))
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/api/v1/chat", chatRequest{
		Messages: []chatMessage{{Role: "user", Content: "hi"}},
	})
	var body chatResponse
	decodeBody(t, resp, &body)
	if body.Model != ServiceName {
		t.Errorf("model %q, want %q", body.Model, ServiceName)
	}
}

func TestHandleChat_ClassifiesLastUserTurn(t *testing.T) {
	srv := registerHandlers(setupTestComponent(t))
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/api/v1/chat", chatRequest{
		Messages: []chatMessage{
			{Role: "user", Content: "compose a system"},
			{Role: "assistant", Content: "here is how to compose one"},
			{Role: "user", Content: "actually, list templates"},
		},
	})
	var body chatResponse
	decodeBody(t, resp, &body)
	if body.Intent != "list_templates" {
		t.Errorf("intent %q, want list_templates from the latest user turn", body.Intent)
	}
}

func TestHandleChat_EmptyMessages(t *testing.T) {
	srv := registerHandlers(setupTestComponent(t))
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/api/v1/chat", chatRequest{})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
}

func TestHandleChat_MalformedJSON(t *testing.T) {
	srv := registerHandlers(setupTestComponent(t))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/v1/chat", "application/json",
		strings.NewReader("[[["))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}
