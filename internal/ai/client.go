package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrEmptyCompletion is returned when the model answers with nothing usable.
var ErrEmptyCompletion = errors.New("completion returned no text")

// HintPrompt carries everything the model needs to produce the next clue
// about an anonymous sender. PreviousHints lets the model avoid repeating
// itself; distinctness is best-effort on the model side and not re-verified.
type HintPrompt struct {
	SubjectText   string
	Frequency     string
	Location      string
	PreviousHints []string
}

// Completer produces one new natural-language clue.
type Completer interface {
	NextHint(ctx context.Context, p HintPrompt) (string, error)
}

// Client talks to an OpenAI-compatible chat-completions endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey, model string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

var _ Completer = (*Client)(nil)

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

const systemPrompt = "You write a single short playful clue about the anonymous sender of a compliment, in the recipient's language. Never reveal the sender's name. Never repeat an earlier clue. Answer with the clue text only."

func (c *Client) NextHint(ctx context.Context, p HintPrompt) (string, error) {
	var user strings.Builder
	fmt.Fprintf(&user, "Compliment: %q\n", p.SubjectText)
	if p.Frequency != "" {
		fmt.Fprintf(&user, "How often they see the recipient: %s\n", p.Frequency)
	}
	if p.Location != "" {
		fmt.Fprintf(&user, "Where they know the recipient from: %s\n", p.Location)
	}
	if len(p.PreviousHints) > 0 {
		fmt.Fprintf(&user, "Clues already given, do not repeat: %s\n", strings.Join(p.PreviousHints, " | "))
	}
	user.WriteString("Give the next clue.")

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: user.String()},
		},
		Temperature: 0.9,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decoding completion response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if parsed.Error != nil {
			return "", fmt.Errorf("completion API status %d: %s", resp.StatusCode, parsed.Error.Message)
		}
		return "", fmt.Errorf("completion API status %d", resp.StatusCode)
	}
	if len(parsed.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	hint := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if hint == "" {
		return "", ErrEmptyCompletion
	}
	return hint, nil
}
