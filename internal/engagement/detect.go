package engagement

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/mohammad-safakhou/scholar/internal/httpclient"
)

// Detector finds students in an image.
type Detector interface {
	Detect(ctx context.Context, imagePath string) ([]Detection, error)
}

// HTTPDetector calls an object-detection service that accepts a multipart
// image upload plus a text prompt and answers {"data": [[detection...]]}.
type HTTPDetector struct {
	client   *httpclient.Client
	url      string
	apiKey   string
	prompt   string
	minScore float64
}

// NewHTTPDetector returns a detector posting to url.
func NewHTTPDetector(client *httpclient.Client, url, apiKey string, minScore float64) *HTTPDetector {
	return &HTTPDetector{client: client, url: url, apiKey: apiKey, prompt: "people", minScore: minScore}
}

type detectionResponse struct {
	Data [][]Detection `json:"data"`
}

// Detect implements Detector.
func (d *HTTPDetector) Detect(ctx context.Context, imagePath string) ([]Detection, error) {
	body, contentType, err := multipartImage(imagePath, map[string]string{"prompts": d.prompt, "model": "agentic"})
	if err != nil {
		return nil, err
	}
	headers := map[string]string{"Content-Type": contentType}
	if d.apiKey != "" {
		headers["Authorization"] = "Basic " + d.apiKey
	}
	var resp detectionResponse
	if err := d.client.Do(ctx, http.MethodPost, d.url, headers, body, &resp); err != nil {
		return nil, fmt.Errorf("detect students: %w", err)
	}
	if len(resp.Data) == 0 {
		return []Detection{}, nil
	}
	out := make([]Detection, 0, len(resp.Data[0]))
	for _, det := range resp.Data[0] {
		if det.Score < d.minScore {
			continue
		}
		out = append(out, det)
	}
	return out, nil
}

func multipartImage(path string, fields map[string]string) ([]byte, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("image", filepath.Base(path))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", err
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}
