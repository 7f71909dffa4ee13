// Package oracle calls an OpenAI-compatible chat-completions endpoint to
// produce memory summaries. The response is mined for the first message
// content with a literal scan instead of full JSON decoding, so provider
// payload quirks (extra fields, unknown envelopes) cannot break extraction.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	defaultHTTPTimeout = 60 * time.Second

	requestTemperature = 0.3
	requestMaxTokens   = 640
)

var (
	// ErrUnavailable wraps transport failures and non-2xx responses.
	ErrUnavailable = errors.New("oracle unavailable")

	// ErrMalformed marks a 2xx response with no extractable content.
	ErrMalformed = errors.New("oracle response malformed")
)

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

// Client is a minimal chat-completions caller bound to one endpoint, model
// and bearer credential.
type Client struct {
	endpoint   string
	model      string
	apiKey     string
	httpClient *http.Client
}

func NewClient(endpoint, model, apiKey string) (*Client, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("oracle endpoint not configured")
	}
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("oracle model not configured")
	}
	return &Client{
		endpoint:   endpoint,
		model:      strings.TrimSpace(model),
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
	}, nil
}

// Complete sends one system+user exchange and returns the assistant text.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: requestTemperature,
		MaxTokens:   requestMaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshal oracle request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create oracle request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", fmt.Errorf("%w: status=%d body=%s", ErrUnavailable, resp.StatusCode, trimForError(payload))
	}

	content, ok := extractContent(string(payload))
	if !ok {
		return "", fmt.Errorf("%w: no content field in %s", ErrMalformed, trimForError(payload))
	}
	return content, nil
}

func trimForError(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 300 {
		return s[:300] + "..."
	}
	return s
}

// extractContent finds the first "content":"..." value and unescapes it.
// Only the escapes JSON string encoding produces are handled.
func extractContent(payload string) (string, bool) {
	const marker = `"content":"`
	start := strings.Index(payload, marker)
	if start < 0 {
		return "", false
	}
	i := start + len(marker)

	var b strings.Builder
	for i < len(payload) {
		ch := payload[i]
		switch ch {
		case '"':
			return b.String(), true
		case '\\':
			if i+1 >= len(payload) {
				return "", false
			}
			i++
			switch payload[i] {
			case '"':
				b.WriteByte('"')
			case '\\':
				b.WriteByte('\\')
			case '/':
				b.WriteByte('/')
			case 'n':
				b.WriteByte('\n')
			case 'r':
				b.WriteByte('\r')
			case 't':
				b.WriteByte('\t')
			case 'u':
				if i+4 >= len(payload) {
					return "", false
				}
				code, err := strconv.ParseUint(payload[i+1:i+5], 16, 32)
				if err != nil {
					return "", false
				}
				b.WriteRune(rune(code))
				i += 4
			default:
				// Unknown escape, keep the raw character.
				b.WriteByte(payload[i])
			}
		default:
			b.WriteByte(ch)
		}
		i++
	}
	return "", false
}
