package engagement

import "github.com/mohammad-safakhou/scholar/internal/blackboard"

// Detection is one detected person in the classroom image. Box is
// [x1, y1, x2, y2] in pixels.
type Detection struct {
	Label string     `json:"label"`
	Score float64    `json:"score"`
	Box   [4]float64 `json:"bounding_box"`
}

// EmotionResult is the classifier's label distribution for one face.
type EmotionResult struct {
	Top    string             `json:"top"`
	Scores map[string]float64 `json:"scores"`
}

var (
	SourceImageKey      = blackboard.NewKey[string](blackboard.SourceImage)
	SlideImageKey       = blackboard.NewKey[string](blackboard.SlideImage)
	StudentsDirKey      = blackboard.NewKey[string](blackboard.StudentsDir)
	DetectionsKey       = blackboard.NewKey[[]Detection](blackboard.Detections)
	CroppedFacesKey     = blackboard.NewKey[[]string](blackboard.CroppedFaces)
	CurrentFaceKey      = blackboard.NewKey[string](blackboard.CurrentFace)
	EmotionKey          = blackboard.NewKey[EmotionResult](blackboard.Emotion)
	BodyLanguageKey     = blackboard.NewKey[string](blackboard.BodyLanguage)
	IdentityKey         = blackboard.NewKey[string](blackboard.Identity)
	SlideSubjectKey     = blackboard.NewKey[string](blackboard.SlideSubject)
	SlideDescriptionKey = blackboard.NewKey[string](blackboard.SlideDescription)
)
