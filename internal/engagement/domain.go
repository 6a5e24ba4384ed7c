package engagement

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/mohammad-safakhou/scholar/internal/blackboard"
	"github.com/mohammad-safakhou/scholar/internal/capability"
	"github.com/mohammad-safakhou/scholar/internal/consolidate"
	"github.com/mohammad-safakhou/scholar/internal/core"
	"github.com/mohammad-safakhou/scholar/internal/orchestrator"
	"github.com/mohammad-safakhou/scholar/internal/planner"
)

// Name is the domain name used for routing.
const Name = "image"

// Query input names read by this domain.
const (
	InputImage       = "image"
	InputSlide       = "slide"
	InputStudentsDir = "students_dir"
)

// Unidentified keys the record when no identity or hint is known.
const Unidentified = "unidentified"

// Config holds the domain's filesystem settings.
type Config struct {
	WorkDir     string
	StudentsDir string
}

// Domain analyses a classroom photo and an optional lesson slide.
type Domain struct {
	cfg    Config
	reg    *capability.Registry
	logger *zap.Logger
}

var _ orchestrator.Domain = (*Domain)(nil)

// NewDomain registers the image capabilities backed by svc.
func NewDomain(cfg Config, svc Services, logger *zap.Logger) (*Domain, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = filepath.Join(os.TempDir(), "scholar")
	}
	reg, err := capability.NewRegistry(Capabilities(svc), "crop_students", "select_student")
	if err != nil {
		return nil, fmt.Errorf("image registry: %w", err)
	}
	return &Domain{cfg: cfg, reg: reg, logger: logger.Named("engagement")}, nil
}

func (d *Domain) Name() string { return Name }

func (d *Domain) Description() string {
	return "classroom image: engagement, emotion, body language and identity of students in a class photo, plus the lesson slide"
}

func (d *Domain) Registry() *capability.Registry { return d.reg }

func (d *Domain) DefaultPlan() planner.RawPlan {
	return planner.RawPlan{
		RequiresAnalysis: true,
		Explanation:      "default engagement analysis",
		Steps: []planner.RawStep{
			{Capability: "detect_students"},
			{Capability: "crop_students"},
			{Capability: "analyze_emotion"},
			{Capability: "analyze_body_language"},
		},
	}
}

func (d *Domain) Rules() consolidate.Rules { return consolidate.Rules{} }

func (d *Domain) FocusRules() []blackboard.FocusRule {
	return []blackboard.FocusRule{blackboard.FirstOf(CroppedFacesKey, CurrentFaceKey)}
}

// Seed needs at least one readable image among the class photo and slide.
func (d *Domain) Seed(q core.Query, bb *blackboard.Blackboard) error {
	image, hasImage := existing(q, InputImage)
	slide, hasSlide := existing(q, InputSlide)
	if !hasImage && !hasSlide {
		return fmt.Errorf("%w: no classroom image or slide was provided", orchestrator.ErrInputUnavailable)
	}
	students, ok := q.Input(InputStudentsDir)
	if !ok {
		students = d.cfg.StudentsDir
	}
	if fi, err := os.Stat(students); students != "" && (err != nil || !fi.IsDir()) {
		d.logger.Debug("students directory unavailable", zap.String("dir", students))
		students = ""
	}
	workDir := filepath.Join(d.cfg.WorkDir, runDir(q))

	for _, err := range []error{
		blackboard.Seed(bb, blackboard.QueryTextKey, q.Text),
		blackboard.Seed(bb, blackboard.EntityHintKey, q.EntityHint),
		blackboard.Seed(bb, blackboard.TopicHintKey, q.TopicHint),
		blackboard.Seed(bb, blackboard.WorkDirKey, workDir),
		blackboard.Seed(bb, SourceImageKey, image),
		blackboard.Seed(bb, SlideImageKey, slide),
		blackboard.Seed(bb, StudentsDirKey, students),
	} {
		if err != nil {
			return err
		}
	}
	return nil
}

// Collect folds the final blackboard into a single record for the student
// in focus.
func (d *Domain) Collect(q core.Query, bb *blackboard.Blackboard) []core.AnalysisRecord {
	fields := map[string]any{}
	if dets, ok := blackboard.Lookup(bb, DetectionsKey); ok {
		fields["students_detected"] = len(dets)
	}
	if em, ok := blackboard.Lookup(bb, EmotionKey); ok {
		fields["emotion"] = em.Top
		fields["emotion_scores"] = em.Scores
	}
	if v, ok := blackboard.Lookup(bb, BodyLanguageKey); ok {
		fields["body_language"] = v
	}
	if v, ok := blackboard.Lookup(bb, SlideSubjectKey); ok {
		fields["slide_subject"] = v
	}
	if v, ok := blackboard.Lookup(bb, SlideDescriptionKey); ok {
		fields["slide_description"] = v
	}
	identity, identified := blackboard.Lookup(bb, IdentityKey)
	if identified {
		fields["identity"] = identity
	}
	if len(fields) == 0 {
		return nil
	}

	entity := Unidentified
	switch {
	case identified:
		entity = identity
	case q.EntityHint != "":
		entity = q.EntityHint
	}
	source, ok := blackboard.Lookup(bb, SourceImageKey)
	if !ok {
		source, _ = blackboard.Lookup(bb, SlideImageKey)
	}
	return []core.AnalysisRecord{{Entity: entity, Source: source, Fields: fields}}
}

func existing(q core.Query, name string) (string, bool) {
	p, ok := q.Input(name)
	if !ok {
		return "", false
	}
	if _, err := os.Stat(p); err != nil {
		return "", false
	}
	return p, true
}

func runDir(q core.Query) string {
	if q.ID != "" {
		return q.ID
	}
	return "adhoc"
}
