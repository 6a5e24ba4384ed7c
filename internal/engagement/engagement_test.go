package engagement

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mohammad-safakhou/scholar/internal/blackboard"
	"github.com/mohammad-safakhou/scholar/internal/core"
	"github.com/mohammad-safakhou/scholar/internal/httpclient"
	"github.com/mohammad-safakhou/scholar/internal/llm"
	"github.com/mohammad-safakhou/scholar/internal/orchestrator"
	"github.com/mohammad-safakhou/scholar/internal/planner"
)

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 100, A: 255})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
}

func TestCropFacesClampsAndSkips(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "class.png")
	writePNG(t, src, 40, 20)

	paths, err := CropFaces(src, []Detection{
		{Box: [4]float64{0, 0, 10, 10}},
		{Box: [4]float64{50, 50, 60, 60}},
		{Box: [4]float64{30, 5, 55, 25}},
	}, filepath.Join(dir, "faces"))
	if err != nil {
		t.Fatalf("CropFaces: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("expected 2 crops, got %v", paths)
	}
	if filepath.Base(paths[1]) != "profile_2.jpg" {
		t.Fatalf("crop names should follow detection index: %v", paths)
	}
	f, err := os.Open(paths[1])
	if err != nil {
		t.Fatalf("open crop: %v", err)
	}
	defer f.Close()
	img, err := jpeg.Decode(f)
	if err != nil {
		t.Fatalf("decode crop: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 10 || b.Dy() != 15 {
		t.Fatalf("clamped crop should be 10x15, got %v", b)
	}
}

func TestCropFacesRejectsUndecodable(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "broken.png")
	if err := os.WriteFile(src, []byte("not an image"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := CropFaces(src, []Detection{{Box: [4]float64{0, 0, 1, 1}}}, dir); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestHTTPDetectorSendsMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if r.FormValue("prompts") != "people" {
			t.Errorf("prompt = %q", r.FormValue("prompts"))
		}
		if got := r.Header.Get("Authorization"); got != "Basic secret" {
			t.Errorf("auth = %q", got)
		}
		f, hdr, err := r.FormFile("image")
		if err != nil {
			t.Errorf("form file: %v", err)
		} else {
			defer f.Close()
			if hdr.Filename != "class.png" {
				t.Errorf("filename = %q", hdr.Filename)
			}
		}
		io.WriteString(w, `{"data":[[{"label":"person","score":0.9,"bounding_box":[1,2,3,4]},{"label":"person","score":0.1,"bounding_box":[0,0,1,1]}]]}`)
	}))
	defer srv.Close()

	dir := t.TempDir()
	src := filepath.Join(dir, "class.png")
	writePNG(t, src, 4, 4)
	d := NewHTTPDetector(httpclient.New(time.Second, 0, time.Millisecond), srv.URL, "secret", 0.5)
	dets, err := d.Detect(context.Background(), src)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(dets) != 1 || dets[0].Box != [4]float64{1, 2, 3, 4} {
		t.Fatalf("unexpected detections %+v", dets)
	}
}

func TestHTTPEmotionPicksTopLabel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "image/jpeg" {
			t.Errorf("content type = %q", ct)
		}
		io.WriteString(w, `[{"label":"neutral","score":0.2},{"label":"happy","score":0.7},{"label":"sad","score":0.1}]`)
	}))
	defer srv.Close()

	face := filepath.Join(t.TempDir(), "face.jpg")
	if err := os.WriteFile(face, []byte{0xff, 0xd8}, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	e := NewHTTPEmotion(httpclient.New(time.Second, 0, time.Millisecond), srv.URL, "")
	res, err := e.Classify(context.Background(), face)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if res.Top != "happy" || len(res.Scores) != 3 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestHTTPEmotionClientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad image", http.StatusBadRequest)
	}))
	defer srv.Close()
	face := filepath.Join(t.TempDir(), "face.jpg")
	os.WriteFile(face, []byte{1}, 0o644)

	e := NewHTTPEmotion(httpclient.New(time.Second, 3, time.Millisecond), srv.URL, "")
	_, err := e.Classify(context.Background(), face)
	var se *httpclient.StatusError
	if !errors.As(err, &se) || se.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 status error, got %v", err)
	}
}

type stubLLM struct {
	text string
	req  llm.Request
}

func (s *stubLLM) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	s.req = req
	return llm.Response{Text: s.text}, nil
}

func TestLLMAnalystIdentify(t *testing.T) {
	dir := t.TempDir()
	for _, n := range []string{"Grace.png", "Ada.jpg", "notes.txt"} {
		os.WriteFile(filepath.Join(dir, n), []byte{1, 2}, 0o644)
	}
	face := filepath.Join(t.TempDir(), "face.jpg")
	os.WriteFile(face, []byte{3}, 0o644)

	stub := &stubLLM{text: "This is ada."}
	a := NewLLMAnalyst(stub, "vision")
	name, err := a.Identify(context.Background(), face, dir)
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if name != "Ada" {
		t.Fatalf("name = %q", name)
	}
	if len(stub.req.Images) != 3 || !strings.Contains(stub.req.Prompt, "1. Student: Ada") {
		t.Fatalf("unexpected request %+v", stub.req)
	}

	stub.text = "I cannot tell"
	if name, _ := a.Identify(context.Background(), face, dir); name != Unknown {
		t.Fatalf("expected unknown, got %q", name)
	}
}

func TestLLMAnalystIdentifyWithoutReferences(t *testing.T) {
	face := filepath.Join(t.TempDir(), "face.jpg")
	os.WriteFile(face, []byte{3}, 0o644)
	a := NewLLMAnalyst(&stubLLM{text: "Ada"}, "vision")
	if _, err := a.Identify(context.Background(), face, t.TempDir()); !errors.Is(err, ErrNoReferences) {
		t.Fatalf("expected ErrNoReferences, got %v", err)
	}
}

type fakeDetector struct{ dets []Detection }

func (f fakeDetector) Detect(ctx context.Context, path string) ([]Detection, error) {
	return f.dets, nil
}

type fakeEmotions struct{}

func (fakeEmotions) Classify(ctx context.Context, face string) (EmotionResult, error) {
	return EmotionResult{Top: "focused:" + filepath.Base(face), Scores: map[string]float64{"focused": 0.8}}, nil
}

type fakeAnalyst struct {
	names map[string]string
}

func (f fakeAnalyst) BodyLanguage(ctx context.Context, face string) (string, error) {
	return "leaning forward", nil
}
func (f fakeAnalyst) Identify(ctx context.Context, face, dir string) (string, error) {
	if n, ok := f.names[filepath.Base(face)]; ok {
		return n, nil
	}
	return Unknown, nil
}
func (f fakeAnalyst) ClassifySlide(ctx context.Context, slide string) (string, error) {
	return "Mathematics", nil
}
func (f fakeAnalyst) DescribeSlide(ctx context.Context, slide, subject string) (string, error) {
	return "fractions in " + subject, nil
}

type downOracle struct{}

func (downOracle) DesignPlan(ctx context.Context, req planner.Request) (planner.RawPlan, error) {
	return planner.RawPlan{}, errors.New("oracle offline")
}

type fixedOracle struct{ plan planner.RawPlan }

func (o fixedOracle) DesignPlan(ctx context.Context, req planner.Request) (planner.RawPlan, error) {
	return o.plan, nil
}

func newTestDomain(t *testing.T, svc Services) (*Domain, string) {
	t.Helper()
	dir := t.TempDir()
	img := filepath.Join(dir, "class.png")
	writePNG(t, img, 30, 30)
	d, err := NewDomain(Config{WorkDir: filepath.Join(dir, "work"), StudentsDir: dir}, svc, nil)
	if err != nil {
		t.Fatalf("NewDomain: %v", err)
	}
	return d, img
}

var twoStudents = []Detection{{Box: [4]float64{0, 0, 10, 10}}, {Box: [4]float64{10, 10, 20, 20}}}

func TestDefaultPlanFocusesFirstStudent(t *testing.T) {
	d, img := newTestDomain(t, Services{Detector: fakeDetector{twoStudents}, Emotions: fakeEmotions{}, Analyst: fakeAnalyst{}})
	o := orchestrator.New(d, planner.New(downOracle{}))

	q := core.Query{ID: "r1", Text: "How engaged is Ada?", EntityHint: "Ada", Inputs: map[string]string{InputImage: img}}
	report, err := o.Run(context.Background(), "r1", q, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !report.Plan.UsedDefault {
		t.Fatalf("expected default plan after oracle failure")
	}
	rec, ok := report.Records["Ada"]
	if !ok {
		t.Fatalf("record should be keyed by the entity hint: %+v", report.Records)
	}
	if rec.Fields["emotion"] != "focused:profile_0.jpg" || rec.Fields["body_language"] != "leaning forward" {
		t.Fatalf("unexpected fields %+v", rec.Fields)
	}
	if rec.Fields["students_detected"] != 2 {
		t.Fatalf("students_detected = %v", rec.Fields["students_detected"])
	}
}

func TestSelectStudentMatchesHint(t *testing.T) {
	svc := Services{
		Detector: fakeDetector{twoStudents},
		Emotions: fakeEmotions{},
		Analyst:  fakeAnalyst{names: map[string]string{"profile_1.jpg": "Ada"}},
	}
	d, img := newTestDomain(t, svc)
	plan := planner.RawPlan{RequiresAnalysis: true, Steps: []planner.RawStep{
		{Capability: "analyze_emotion"},
		{Capability: "identify_student"},
		{Capability: "select_student"},
		{Capability: "crop_students"},
		{Capability: "detect_students"},
	}}
	o := orchestrator.New(d, planner.New(fixedOracle{plan}))

	q := core.Query{ID: "r2", Text: "Is Ada paying attention?", EntityHint: "ada", Inputs: map[string]string{InputImage: img}}
	report, err := o.Run(context.Background(), "r2", q, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	rec, ok := report.Records["Ada"]
	if !ok {
		t.Fatalf("record should be keyed by identity: %+v", report.Records)
	}
	if rec.Fields["emotion"] != "focused:profile_1.jpg" {
		t.Fatalf("emotion should come from the selected face, got %v", rec.Fields["emotion"])
	}
	want := []string{"detect_students", "crop_students", "select_student", "analyze_emotion", "identify_student"}
	if strings.Join(report.Plan.Steps, ",") != strings.Join(want, ",") {
		t.Fatalf("steps = %v", report.Plan.Steps)
	}
}

type failingIdentity struct{ fakeAnalyst }

func (failingIdentity) Identify(ctx context.Context, face, dir string) (string, error) {
	return "", errors.New("vision model returned 500")
}

func TestSelectStudentFallsBackWhenIdentifyFails(t *testing.T) {
	svc := Services{Detector: fakeDetector{twoStudents}, Emotions: fakeEmotions{}, Analyst: failingIdentity{}}
	d, img := newTestDomain(t, svc)
	plan := planner.RawPlan{RequiresAnalysis: true, Steps: []planner.RawStep{
		{Capability: "detect_students"},
		{Capability: "crop_students"},
		{Capability: "select_student"},
		{Capability: "analyze_emotion"},
		{Capability: "analyze_body_language"},
	}}
	o := orchestrator.New(d, planner.New(fixedOracle{plan}))

	q := core.Query{ID: "r4", Text: "Is Ada paying attention?", EntityHint: "Ada", Inputs: map[string]string{InputImage: img}}
	report, err := o.Run(context.Background(), "r4", q, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, e := range report.Errors {
		if e.Step == "select_student" {
			t.Fatalf("select_student should not fail: %+v", e)
		}
	}
	rec, ok := report.Records["Ada"]
	if !ok {
		t.Fatalf("record should be keyed by the entity hint: %+v", report.Records)
	}
	if rec.Fields["emotion"] != "focused:profile_0.jpg" || rec.Fields["body_language"] != "leaning forward" {
		t.Fatalf("dependent steps should run on the first face, got %+v", rec.Fields)
	}
}

func TestSlideOnlyQuery(t *testing.T) {
	d, img := newTestDomain(t, Services{Analyst: fakeAnalyst{}})
	plan := planner.RawPlan{RequiresAnalysis: true, Steps: []planner.RawStep{{Capability: "describe_slide"}, {Capability: "classify_slide"}}}
	o := orchestrator.New(d, planner.New(fixedOracle{plan}))

	report, err := o.Run(context.Background(), "r3", core.Query{Text: "what is the lesson about?", Inputs: map[string]string{InputSlide: img}}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	rec, ok := report.Records[Unidentified]
	if !ok || rec.Fields["slide_description"] != "fractions in Mathematics" {
		t.Fatalf("unexpected report %+v", report.Records)
	}
}

func TestSeedWithoutImagesIsUnavailable(t *testing.T) {
	d, _ := newTestDomain(t, Services{})
	bb := blackboard.New()
	err := d.Seed(core.Query{Inputs: map[string]string{InputImage: "/does/not/exist.png"}}, bb)
	if !errors.Is(err, orchestrator.ErrInputUnavailable) {
		t.Fatalf("expected ErrInputUnavailable, got %v", err)
	}
}
