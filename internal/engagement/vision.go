package engagement

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mohammad-safakhou/scholar/internal/llm"
)

// ErrNoReferences means the students directory holds no reference photos.
var ErrNoReferences = errors.New("no reference student images")

// Unknown is the identity reported for a face that matches no reference.
const Unknown = "unknown"

// Analyst answers the vision questions of the image domain.
type Analyst interface {
	BodyLanguage(ctx context.Context, facePath string) (string, error)
	Identify(ctx context.Context, facePath, studentsDir string) (string, error)
	ClassifySlide(ctx context.Context, slidePath string) (string, error)
	DescribeSlide(ctx context.Context, slidePath, subject string) (string, error)
}

// LLMAnalyst implements Analyst with a vision-capable language model.
type LLMAnalyst struct {
	client llm.Client
	model  string
}

// NewLLMAnalyst returns an analyst backed by client.
func NewLLMAnalyst(client llm.Client, model string) *LLMAnalyst {
	return &LLMAnalyst{client: client, model: model}
}

const bodyLanguagePrompt = `You interpret body language from images. Describe the posture, head
orientation, gaze direction, hand gestures and overall engagement of the person in the
image. Mention interaction with objects or people briefly. Stay factual and answer in a
single sentence.`

// BodyLanguage captions the posture and engagement of one student.
func (a *LLMAnalyst) BodyLanguage(ctx context.Context, facePath string) (string, error) {
	img, err := llm.LoadImage(facePath)
	if err != nil {
		return "", err
	}
	return a.ask(ctx, bodyLanguagePrompt,
		"Analyze the body language of the student in the image.", []llm.Image{img})
}

// Identify matches a face against the reference photos in studentsDir, whose
// file names are the student names. It returns Unknown when nothing matches.
func (a *LLMAnalyst) Identify(ctx context.Context, facePath, studentsDir string) (string, error) {
	names, refs, err := loadReferences(studentsDir)
	if err != nil {
		return "", err
	}
	face, err := llm.LoadImage(facePath)
	if err != nil {
		return "", err
	}
	var prompt strings.Builder
	prompt.WriteString("Reference images follow in this order:\n")
	for i, n := range names {
		fmt.Fprintf(&prompt, "%d. Student: %s\n", i+1, n)
	}
	prompt.WriteString("The last image is the face to identify. Reply with the matching student name only, or \"unknown\".")

	answer, err := a.ask(ctx,
		"You are a face recognition assistant comparing one face with labelled reference photos.",
		prompt.String(), append(refs, face))
	if err != nil {
		return "", err
	}
	return matchName(answer, names), nil
}

// ClassifySlide names the school subject a lesson slide belongs to.
func (a *LLMAnalyst) ClassifySlide(ctx context.Context, slidePath string) (string, error) {
	img, err := llm.LoadImage(slidePath)
	if err != nil {
		return "", err
	}
	answer, err := a.ask(ctx,
		"You classify lesson slides by school subject.",
		"Which school subject is this slide from? Reply with the subject name only.", []llm.Image{img})
	if err != nil {
		return "", err
	}
	return strings.Trim(answer, " .\n\""), nil
}

// DescribeSlide summarises the concepts covered by a lesson slide.
func (a *LLMAnalyst) DescribeSlide(ctx context.Context, slidePath, subject string) (string, error) {
	img, err := llm.LoadImage(slidePath)
	if err != nil {
		return "", err
	}
	system := "You are a teaching assistant describing the content of a lesson slide. Cover the main concepts and topics without reading the text verbatim."
	if subject != "" {
		system += fmt.Sprintf(" The subject is %s.", subject)
	}
	return a.ask(ctx, system, "Describe this slide.", []llm.Image{img})
}

func (a *LLMAnalyst) ask(ctx context.Context, system, prompt string, images []llm.Image) (string, error) {
	resp, err := a.client.Generate(ctx, llm.Request{
		Model:       a.model,
		System:      system,
		Prompt:      prompt,
		Images:      images,
		Temperature: 0.2,
		MaxTokens:   400,
	})
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", errors.New("empty vision response")
	}
	return text, nil
}

func loadReferences(dir string) ([]string, []llm.Image, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".png", ".jpg", ".jpeg":
			files = append(files, e.Name())
		}
	}
	if len(files) == 0 {
		return nil, nil, fmt.Errorf("%w in %s", ErrNoReferences, dir)
	}
	sort.Strings(files)
	names := make([]string, 0, len(files))
	imgs := make([]llm.Image, 0, len(files))
	for _, f := range files {
		img, err := llm.LoadImage(filepath.Join(dir, f))
		if err != nil {
			return nil, nil, err
		}
		names = append(names, strings.TrimSuffix(f, filepath.Ext(f)))
		imgs = append(imgs, img)
	}
	return names, imgs, nil
}

// matchName maps a free-text answer onto one of the known names.
func matchName(answer string, names []string) string {
	a := strings.ToLower(strings.Trim(answer, " .\n\""))
	for _, n := range names {
		if strings.ToLower(n) == a {
			return n
		}
	}
	for _, n := range names {
		if strings.Contains(a, strings.ToLower(n)) {
			return n
		}
	}
	return Unknown
}
