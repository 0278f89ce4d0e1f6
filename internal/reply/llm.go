package reply

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"parley/internal/logging"
	"parley/internal/util"
)

// skipSentinel is the token the model returns when the post does not
// warrant a reply.
const skipSentinel = "SKIP"

// LLM generates replies through an Anthropic-style messages endpoint.
type LLM struct {
	baseURL     string
	model       string
	apiKey      string
	maxAttempts int
	httpClient  *http.Client
}

func NewLLM(model, apiKey string, maxAttempts int) *LLM {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &LLM{
		baseURL:     "https://api.anthropic.com",
		model:       model,
		apiKey:      apiKey,
		maxAttempts: maxAttempts,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
	}
}

func toneNote(c string) string {
	switch c {
	case "friend":
		return "TONE NOTE: This is a friendly account. Be generous, supportive, and warm even if their post is ambiguous or you might disagree. Give them the benefit of the doubt."
	case "foe":
		return "TONE NOTE: This is an adversarial account. You can be more critical, sharp, or pointed in your response. Don't hold back if their take is bad."
	default:
		return ""
	}
}

func (l *LLM) prompt(req Request, retry bool) string {
	var b strings.Builder
	b.WriteString("You are generating a reply to engage with this post. Use the voice and personality described below.\n\n")
	b.WriteString("VOICE/PERSONALITY:\n")
	b.WriteString(req.Voice)
	b.WriteString("\n")
	if note := toneNote(string(req.Classification)); note != "" {
		b.WriteString("\n")
		b.WriteString(note)
		b.WriteString("\n")
	}
	b.WriteString("\nPOST YOU'RE REPLYING TO:\n\"")
	b.WriteString(req.PostText)
	b.WriteString("\"\n\n")
	fmt.Fprintf(&b, "Generate an engaging reply that follows the voice guidelines above. Keep it UNDER %d characters total.\n", req.MaxChars)
	if retry {
		fmt.Fprintf(&b, "Your previous draft was too long. It MUST be under %d characters this time.\n", req.MaxChars)
	}
	b.WriteString("If the post doesn't warrant a good reply, return ONLY: " + skipSentinel + "\n")
	b.WriteString("\nYour reply (text only, no quotes around it):")
	return b.String()
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
}

func (l *LLM) call(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(messagesRequest{
		Model:     l.model,
		MaxTokens: 300,
		Messages:  []message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("x-api-key", l.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("llm status %d", resp.StatusCode)
	}
	var out messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if len(out.Content) == 0 {
		return "", nil
	}
	return strings.TrimSpace(out.Content[0].Text), nil
}

// Generate drafts a reply, enforcing the platform length bound with a
// bounded number of attempts. When every draft is oversized, or the model
// returns the skip sentinel, it abstains rather than post oversized text.
func (l *LLM) Generate(ctx context.Context, req Request) (string, error) {
	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		text, err := l.call(ctx, l.prompt(req, attempt > 1))
		if err != nil {
			return "", fmt.Errorf("reply generation: %w", err)
		}
		if text == "" || strings.EqualFold(text, skipSentinel) {
			return "", ErrAbstain
		}
		text = util.StripWrappingQuotes(text)
		if util.RuneLen(text) <= req.MaxChars {
			return text, nil
		}
		logging.Warn("reply_oversized", map[string]any{
			"attempt": attempt, "chars": util.RuneLen(text), "max": req.MaxChars,
		})
	}
	return "", fmt.Errorf("%w: no draft within %d chars after %d attempts", ErrAbstain, req.MaxChars, l.maxAttempts)
}
