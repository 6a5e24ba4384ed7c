package blackboard

import "fmt"

// Slot identifies one blackboard entry. The set is closed: capabilities may
// only declare slots listed here.
type Slot string

const (
	QueryText  Slot = "query_text"
	EntityHint Slot = "entity_hint"
	TopicHint  Slot = "topic_hint"

	// image domain
	SourceImage      Slot = "source_image"
	SlideImage       Slot = "slide_image"
	StudentsDir      Slot = "students_dir"
	WorkDir          Slot = "work_dir"
	Detections       Slot = "detections"
	CroppedFaces     Slot = "cropped_faces"
	CurrentFace      Slot = "current_face"
	Emotion          Slot = "emotion"
	BodyLanguage     Slot = "body_language"
	Identity         Slot = "identity"
	SlideSubject     Slot = "slide_subject"
	SlideDescription Slot = "slide_description"

	// records domain
	RecordsDir      Slot = "records_dir"
	RecordFiles     Slot = "record_files"
	TabularFiles    Slot = "tabular_files"
	AnalysisRecords Slot = "analysis_records"
)

var knownSlots = map[Slot]struct{}{
	QueryText: {}, EntityHint: {}, TopicHint: {},
	SourceImage: {}, SlideImage: {}, StudentsDir: {}, WorkDir: {},
	Detections: {}, CroppedFaces: {}, CurrentFace: {}, Emotion: {},
	BodyLanguage: {}, Identity: {}, SlideSubject: {}, SlideDescription: {},
	RecordsDir: {}, RecordFiles: {}, TabularFiles: {}, AnalysisRecords: {},
}

// Known reports whether s is part of the slot schema.
func Known(s Slot) bool {
	_, ok := knownSlots[s]
	return ok
}

// CheckSlots returns an error naming the first slot outside the schema.
func CheckSlots(slots ...Slot) error {
	for _, s := range slots {
		if !Known(s) {
			return fmt.Errorf("%w: %q", ErrUnknownSlot, s)
		}
	}
	return nil
}

// Key binds a slot to the Go type stored under it.
type Key[T any] struct {
	Slot Slot
}

// NewKey returns a typed key for s.
func NewKey[T any](s Slot) Key[T] { return Key[T]{Slot: s} }

// Shared keys seeded by every domain.
var (
	QueryTextKey  = NewKey[string](QueryText)
	EntityHintKey = NewKey[string](EntityHint)
	TopicHintKey  = NewKey[string](TopicHint)
	WorkDirKey    = NewKey[string](WorkDir)
)
