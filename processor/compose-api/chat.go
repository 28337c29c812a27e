package composeapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// chatMessage is one turn in an OpenAI-shaped conversation.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatRequest is the request body for POST /chat.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Stream      bool          `json:"stream,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

// chatChoice is one completion choice.
type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// chatUsage carries word-count token approximations. The numbers are
// advisory; clients must not use them for billing.
type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// chatResponse is the OpenAI-shaped completion envelope.
type chatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
	Intent  string       `json:"intent"`
}

// intentRule matches any of its substrings, first rule wins.
type intentRule struct {
	intent   string
	patterns []string
}

// intentRules is the ordered, case-insensitive classifier. Order matters:
// "create system status" classifies as compose because the compose rule is
// checked first.
var intentRules = []intentRule{
	{intent: "compose", patterns: []string{"compose", "scaffold", "create system"}},
	{intent: "list_templates", patterns: []string{"list templates", "show templates"}},
	{intent: "health", patterns: []string{"status", "health"}},
}

// classifyIntent runs the keyword classifier over one user message.
func classifyIntent(content string) string {
	lower := strings.ToLower(content)
	for _, rule := range intentRules {
		for _, p := range rule.patterns {
			if strings.Contains(lower, p) {
				return rule.intent
			}
		}
	}
	return "general"
}

// handleChat is a deterministic, intent-routed chat endpoint. It is not an
// LLM: responses are synthesized from the classified intent.
func (c *Component) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed_json",
			"request body is not valid JSON", nil, "send an OpenAI-shaped chat request")
		return
	}

	if len(req.Messages) == 0 {
		writeError(w, http.StatusUnprocessableEntity, "validation",
			"messages must not be empty", map[string]string{"messages": "required"},
			"include at least one user message")
		return
	}

	// Classify the most recent user turn.
	var lastUser string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			lastUser = req.Messages[i].Content
			break
		}
	}
	intent := classifyIntent(lastUser)
	content := c.respondTo(intent)

	promptWords := 0
	for _, m := range req.Messages {
		promptWords += len(strings.Fields(m.Content))
	}
	completionWords := len(strings.Fields(content))

	model := req.Model
	if model == "" {
		model = ServiceName
	}

	writeJSON(w, http.StatusOK, chatResponse{
		ID:      "chatcmpl-" + uuid.NewString(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []chatChoice{{
			Index:        0,
			Message:      chatMessage{Role: "assistant", Content: content},
			FinishReason: "stop",
		}},
		Usage: chatUsage{
			PromptTokens:     promptWords,
			CompletionTokens: completionWords,
			TotalTokens:      promptWords + completionWords,
		},
		Intent: intent,
	})
}

// respondTo synthesizes the response body for one intent.
func (c *Component) respondTo(intent string) string {
	switch intent {
	case "compose":
		sample, _ := json.MarshalIndent(map[string]any{
			"manifest_version": "1.0",
			"system_name":      "my-system",
			"org":              "my-org",
			"components": map[string]any{
				"backend":   map[string]string{"template": "fastapi"},
				"ai_agents": []map[string]string{{"template": "research"}},
			},
		}, "", "  ")
		return "POST a manifest to /compose to build a system. Sample manifest:\n" + string(sample)

	case "list_templates":
		cat := c.currentCatalog()
		var b strings.Builder
		b.WriteString("Available template categories:\n")
		for _, cc := range cat.CategoryCounts() {
			fmt.Fprintf(&b, "- %s: %d template(s)\n", cc.Category, cc.Count)
		}
		b.WriteString("Use POST /discover with operation list_templates for details.")
		return b.String()

	case "health":
		return fmt.Sprintf("Service %s version %s is %s as of %s.",
			ServiceName, Version, c.Health().Status, time.Now().UTC().Format(time.RFC3339))

	default:
		return "I compose repositories from manifests. I can list the template library " +
			"(ask to list templates), report service health (ask for status), or walk you " +
			"through submitting a manifest (ask how to compose a system)."
	}
}
