// Package idcheck validates uploaded student ID cards by running them through
// a cloud OCR API and matching the detected text against the registration.
package idcheck

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

var ErrNoText = errors.New("no text detected in image")

// TextDetector extracts text from an image.
type TextDetector interface {
	DetectText(ctx context.Context, image []byte) (string, error)
}

type visionRequest struct {
	Requests []visionImageRequest `json:"requests"`
}

type visionImageRequest struct {
	Image    visionImage     `json:"image"`
	Features []visionFeature `json:"features"`
}

type visionImage struct {
	Content string `json:"content"`
}

type visionFeature struct {
	Type string `json:"type"`
}

type visionResponse struct {
	Responses []struct {
		FullTextAnnotation *struct {
			Text string `json:"text"`
		} `json:"fullTextAnnotation"`
		TextAnnotations []struct {
			Description string `json:"description"`
		} `json:"textAnnotations"`
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	} `json:"responses"`
}

// VisionClient calls an images:annotate style endpoint with TEXT_DETECTION.
type VisionClient struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func NewVisionClient(endpoint, apiKey string) *VisionClient {
	return &VisionClient{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (v *VisionClient) requestURL() (string, error) {
	u, err := url.Parse(v.endpoint)
	if err != nil {
		return "", fmt.Errorf("parse vision endpoint: %w", err)
	}
	if v.apiKey != "" {
		q := u.Query()
		q.Set("key", v.apiKey)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// DetectText returns the full text the API found in the image.
func (v *VisionClient) DetectText(ctx context.Context, image []byte) (string, error) {
	payload, err := json.Marshal(visionRequest{
		Requests: []visionImageRequest{{
			Image:    visionImage{Content: base64.StdEncoding.EncodeToString(image)},
			Features: []visionFeature{{Type: "TEXT_DETECTION"}},
		}},
	})
	if err != nil {
		return "", fmt.Errorf("encode vision request: %w", err)
	}

	endpoint, err := v.requestURL()
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build vision request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call vision API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("vision API returned status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var out visionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode vision response: %w", err)
	}
	if len(out.Responses) == 0 {
		return "", ErrNoText
	}

	r := out.Responses[0]
	if r.Error != nil {
		return "", fmt.Errorf("vision API error %d: %s", r.Error.Code, r.Error.Message)
	}
	if r.FullTextAnnotation != nil && r.FullTextAnnotation.Text != "" {
		return r.FullTextAnnotation.Text, nil
	}
	if len(r.TextAnnotations) > 0 && r.TextAnnotations[0].Description != "" {
		return r.TextAnnotations[0].Description, nil
	}
	return "", ErrNoText
}
