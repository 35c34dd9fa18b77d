package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// StatusError reports a response other than 200 OK.
type StatusError struct {
	URL    string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gemini %s status=%d body=%s", e.URL, e.Status, e.Body)
}

func (e *StatusError) StatusCode() int { return e.Status }

// Client talks to the NLU and empathy endpoints. Both share one bearer key.
type Client struct {
	nluURL     string
	empathyURL string
	apiKey     string
	http       *http.Client
}

// NewClient with a zero timeout never gives up on a slow upstream.
func NewClient(nluURL, empathyURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		nluURL:     strings.TrimSpace(nluURL),
		empathyURL: strings.TrimSpace(empathyURL),
		apiKey:     apiKey,
		http:       &http.Client{Timeout: timeout},
	}
}

// Analyze posts {"text": text} to the NLU endpoint.
func (c *Client) Analyze(ctx context.Context, text string) (json.RawMessage, error) {
	return c.post(ctx, c.nluURL, map[string]string{"text": text})
}

// Respond posts {"nlu_response": nlu} to the empathy endpoint. nlu is sent as is.
func (c *Client) Respond(ctx context.Context, nlu json.RawMessage) (json.RawMessage, error) {
	if len(nlu) == 0 {
		nlu = json.RawMessage("null")
	}
	return c.post(ctx, c.empathyURL, map[string]json.RawMessage{"nlu_response": nlu})
}

func (c *Client) post(ctx context.Context, url string, payload any) (json.RawMessage, error) {
	if url == "" {
		return nil, fmt.Errorf("gemini endpoint is not configured")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{URL: url, Status: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}
	if !json.Valid(respBody) {
		return nil, fmt.Errorf("gemini %s returned invalid JSON", url)
	}
	return compact(respBody), nil
}

// compact drops insignificant whitespace so the relayed value re-encodes the
// same way regardless of upstream formatting.
func compact(b []byte) json.RawMessage {
	var buf bytes.Buffer
	if err := json.Compact(&buf, b); err != nil {
		return json.RawMessage(b)
	}
	return json.RawMessage(buf.Bytes())
}
