package engagement

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/mohammad-safakhou/scholar/internal/httpclient"
)

// EmotionClassifier labels the facial expression in a cropped face.
type EmotionClassifier interface {
	Classify(ctx context.Context, facePath string) (EmotionResult, error)
}

// HTTPEmotion posts raw image bytes to an image-classification endpoint
// that answers [{"label": "...", "score": 0.9}, ...].
type HTTPEmotion struct {
	client *httpclient.Client
	url    string
	token  string
}

// NewHTTPEmotion returns a classifier posting to url.
func NewHTTPEmotion(client *httpclient.Client, url, token string) *HTTPEmotion {
	return &HTTPEmotion{client: client, url: url, token: token}
}

type labelScore struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Classify implements EmotionClassifier.
func (e *HTTPEmotion) Classify(ctx context.Context, facePath string) (EmotionResult, error) {
	data, err := os.ReadFile(facePath)
	if err != nil {
		return EmotionResult{}, err
	}
	ct := mime.TypeByExtension(filepath.Ext(facePath))
	if ct == "" {
		ct = "image/jpeg"
	}
	headers := map[string]string{"Content-Type": ct}
	if e.token != "" {
		headers["Authorization"] = "Bearer " + e.token
	}
	var scores []labelScore
	if err := e.client.Do(ctx, http.MethodPost, e.url, headers, data, &scores); err != nil {
		return EmotionResult{}, fmt.Errorf("classify emotion: %w", err)
	}
	if len(scores) == 0 {
		return EmotionResult{}, fmt.Errorf("classify emotion: empty response")
	}
	out := EmotionResult{Scores: make(map[string]float64, len(scores))}
	best := -1.0
	for _, s := range scores {
		out.Scores[s.Label] = s.Score
		if s.Score > best {
			best = s.Score
			out.Top = s.Label
		}
	}
	return out, nil
}
