package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

type apiAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type apiMessage struct {
	From    apiAddress   `json:"from"`
	To      []apiAddress `json:"to"`
	Subject string       `json:"subject"`
	HTML    string       `json:"html"`
}

// APISender posts messages to a transactional email HTTP API using a bearer
// API key.
type APISender struct {
	endpoint string
	apiKey   string
	from     apiAddress
	client   *http.Client
}

func NewAPISender(endpoint, apiKey, fromEmail, fromName string) *APISender {
	return &APISender{
		endpoint: endpoint,
		apiKey:   apiKey,
		from:     apiAddress{Email: fromEmail, Name: fromName},
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

func (s *APISender) SendEmail(ctx context.Context, to, subject, body string) error {
	payload, err := json.Marshal(apiMessage{
		From:    s.from,
		To:      []apiAddress{{Email: to}},
		Subject: subject,
		HTML:    body,
	})
	if err != nil {
		return fmt.Errorf("encode email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build email request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("email API returned status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	return nil
}
