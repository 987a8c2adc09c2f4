package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// VisionClient calls an images:annotate endpoint with DOCUMENT_TEXT_DETECTION.
type VisionClient struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

// NewVisionClient creates a client. A nil hc uses http.DefaultClient.
func NewVisionClient(endpoint, apiKey string, hc *http.Client) *VisionClient {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &VisionClient{endpoint: endpoint, apiKey: apiKey, http: hc}
}

type annotateRequest struct {
	Requests []annotateImageRequest `json:"requests"`
}

type annotateImageRequest struct {
	Image    annotateImage     `json:"image"`
	Features []annotateFeature `json:"features"`
}

type annotateImage struct {
	Content string `json:"content"`
}

type annotateFeature struct {
	Type string `json:"type"`
}

type annotateResponse struct {
	Responses []struct {
		FullTextAnnotation struct {
			Text string `json:"text"`
		} `json:"fullTextAnnotation"`
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error,omitempty"`
	} `json:"responses"`
}

// Annotate returns the full text recognized in image. An image without
// text yields "".
func (c *VisionClient) Annotate(ctx context.Context, image []byte) (string, error) {
	body, err := json.Marshal(annotateRequest{
		Requests: []annotateImageRequest{{
			Image:    annotateImage{Content: base64.StdEncoding.EncodeToString(image)},
			Features: []annotateFeature{{Type: "DOCUMENT_TEXT_DETECTION"}},
		}},
	})
	if err != nil {
		return "", err
	}

	u, err := url.Parse(c.endpoint)
	if err != nil {
		return "", fmt.Errorf("vision endpoint: %w", err)
	}
	if c.apiKey != "" {
		q := u.Query()
		q.Set("key", c.apiKey)
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("vision request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("vision: HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}

	var out annotateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("vision: decode response: %w", err)
	}
	if len(out.Responses) == 0 {
		return "", nil
	}
	if e := out.Responses[0].Error; e != nil && e.Message != "" {
		return "", fmt.Errorf("vision: %s", e.Message)
	}
	return out.Responses[0].FullTextAnnotation.Text, nil
}
