package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
)

// Image is an inline image attachment for vision-capable models.
type Image struct {
	MIME string
	Data []byte
}

// DataURL renders the image as a data: URL.
func (i Image) DataURL() string {
	return fmt.Sprintf("data:%s;base64,%s", i.MIME, base64.StdEncoding.EncodeToString(i.Data))
}

// LoadImage reads an image file and infers its MIME type from the extension.
func LoadImage(path string) (Image, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Image{}, err
	}
	mt := mime.TypeByExtension(filepath.Ext(path))
	if mt == "" {
		mt = "image/jpeg"
	}
	return Image{MIME: mt, Data: b}, nil
}

// Request is one completion call.
type Request struct {
	Model       string
	System      string
	Prompt      string
	Images      []Image
	Temperature float64
	MaxTokens   int
	JSON        bool
}

// Response carries generated text and token usage.
type Response struct {
	Text         string
	Model        string
	InputTokens  int64
	OutputTokens int64
}

// Client generates text from a prompt.
type Client interface {
	Generate(ctx context.Context, req Request) (Response, error)
}

// ErrNoJSON is returned when a response contains no JSON object.
var ErrNoJSON = errors.New("no JSON object found in response")

// ExtractJSON returns the first balanced {...} block in text. Models often
// wrap JSON in prose or code fences.
func ExtractJSON(text string) (string, error) {
	start := -1
	depth := 0
	inString := false
	escaped := false
	for i, ch := range text {
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start != -1 {
					return text[start : i+1], nil
				}
			}
		}
	}
	return "", ErrNoJSON
}
