package engagement

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/mohammad-safakhou/scholar/internal/blackboard"
	"github.com/mohammad-safakhou/scholar/internal/capability"
)

// Services are the external collaborators of the image capabilities. A nil
// service leaves its capabilities unregistered.
type Services struct {
	Detector Detector
	Emotions EmotionClassifier
	Analyst  Analyst
}

// Capabilities returns the image-domain capabilities backed by svc.
func Capabilities(svc Services) []capability.Capability {
	caps := []capability.Capability{cropStudents(), selectStudent(svc.Analyst)}
	if svc.Detector != nil {
		caps = append(caps, detectStudents(svc.Detector))
	}
	if svc.Emotions != nil {
		caps = append(caps, analyzeEmotion(svc.Emotions))
	}
	if svc.Analyst != nil {
		caps = append(caps,
			analyzeBodyLanguage(svc.Analyst),
			identifyStudent(svc.Analyst),
			classifySlide(svc.Analyst),
			describeSlide(svc.Analyst),
		)
	}
	return caps
}

func slots(s ...blackboard.Slot) []blackboard.Slot { return s }

func detectStudents(d Detector) capability.Capability {
	return capability.New(capability.Card{
		Name:        "detect_students",
		Description: "Detect the students in the classroom image and return their bounding boxes",
		Tier:        0,
		Requires:    slots(blackboard.SourceImage),
		Produces:    slots(blackboard.Detections),
		MaxRetries:  1,
	}, func(ctx context.Context, in *blackboard.View, out *blackboard.Output) error {
		img, _ := blackboard.Get(in, SourceImageKey)
		dets, err := d.Detect(ctx, img)
		if err != nil {
			return err
		}
		return blackboard.Put(out, DetectionsKey, dets)
	})
}

func cropStudents() capability.Capability {
	return capability.New(capability.Card{
		Name:        "crop_students",
		Description: "Crop one image per detected student",
		Tier:        1,
		Requires:    slots(blackboard.SourceImage, blackboard.Detections),
		Optional:    slots(blackboard.WorkDir),
		Produces:    slots(blackboard.CroppedFaces),
	}, func(ctx context.Context, in *blackboard.View, out *blackboard.Output) error {
		img, _ := blackboard.Get(in, SourceImageKey)
		dets, _ := blackboard.Get(in, DetectionsKey)
		if len(dets) == 0 {
			return nil
		}
		dir, ok := blackboard.Get(in, blackboard.WorkDirKey)
		if !ok {
			tmp, err := os.MkdirTemp("", "scholar-faces-")
			if err != nil {
				return err
			}
			dir = tmp
		}
		paths, err := CropFaces(img, dets, filepath.Join(dir, "faces"))
		if err != nil {
			return err
		}
		if len(paths) == 0 {
			return nil
		}
		return blackboard.Put(out, CroppedFacesKey, paths)
	})
}

func selectStudent(a Analyst) capability.Capability {
	return capability.New(capability.Card{
		Name:        "select_student",
		Description: "Choose the cropped face of the student the question is about",
		Tier:        2,
		Requires:    slots(blackboard.CroppedFaces),
		Optional:    slots(blackboard.EntityHint, blackboard.StudentsDir),
		Produces:    slots(blackboard.CurrentFace),
		Owns:        slots(blackboard.CurrentFace),
	}, func(ctx context.Context, in *blackboard.View, out *blackboard.Output) error {
		faces, _ := blackboard.Get(in, CroppedFacesKey)
		if len(faces) == 0 {
			return nil
		}
		hint, hasHint := blackboard.Get(in, blackboard.EntityHintKey)
		dir, hasDir := blackboard.Get(in, StudentsDirKey)
		if a != nil && hasHint && hasDir {
			for _, face := range faces {
				name, err := a.Identify(ctx, face, dir)
				if err != nil {
					// a failed identification falls back to the first face
					if ctxErr := ctx.Err(); ctxErr != nil {
						return ctxErr
					}
					break
				}
				if strings.EqualFold(name, hint) {
					return blackboard.Put(out, CurrentFaceKey, face)
				}
			}
		}
		return blackboard.Put(out, CurrentFaceKey, faces[0])
	})
}

func analyzeEmotion(e EmotionClassifier) capability.Capability {
	return capability.New(capability.Card{
		Name:        "analyze_emotion",
		Description: "Classify the facial expression of the selected student",
		Tier:        3,
		Requires:    slots(blackboard.CurrentFace),
		Produces:    slots(blackboard.Emotion),
		MaxRetries:  1,
	}, func(ctx context.Context, in *blackboard.View, out *blackboard.Output) error {
		face, _ := blackboard.Get(in, CurrentFaceKey)
		res, err := e.Classify(ctx, face)
		if err != nil {
			return err
		}
		return blackboard.Put(out, EmotionKey, res)
	})
}

func analyzeBodyLanguage(a Analyst) capability.Capability {
	return capability.New(capability.Card{
		Name:        "analyze_body_language",
		Description: "Describe the posture, gestures and engagement of the selected student",
		Tier:        3,
		Requires:    slots(blackboard.CurrentFace),
		Produces:    slots(blackboard.BodyLanguage),
	}, func(ctx context.Context, in *blackboard.View, out *blackboard.Output) error {
		face, _ := blackboard.Get(in, CurrentFaceKey)
		caption, err := a.BodyLanguage(ctx, face)
		if err != nil {
			return err
		}
		return blackboard.Put(out, BodyLanguageKey, caption)
	})
}

func identifyStudent(a Analyst) capability.Capability {
	return capability.New(capability.Card{
		Name:        "identify_student",
		Description: "Match the selected face against the reference photos of the class",
		Tier:        3,
		Requires:    slots(blackboard.CurrentFace, blackboard.StudentsDir),
		Produces:    slots(blackboard.Identity),
	}, func(ctx context.Context, in *blackboard.View, out *blackboard.Output) error {
		face, _ := blackboard.Get(in, CurrentFaceKey)
		dir, _ := blackboard.Get(in, StudentsDirKey)
		name, err := a.Identify(ctx, face, dir)
		if err != nil {
			return err
		}
		if name == Unknown {
			return nil
		}
		return blackboard.Put(out, IdentityKey, name)
	})
}

func classifySlide(a Analyst) capability.Capability {
	return capability.New(capability.Card{
		Name:        "classify_slide",
		Description: "Name the school subject of the lesson slide",
		Tier:        0,
		Requires:    slots(blackboard.SlideImage),
		Produces:    slots(blackboard.SlideSubject),
	}, func(ctx context.Context, in *blackboard.View, out *blackboard.Output) error {
		slide, _ := blackboard.Get(in, SlideImageKey)
		subject, err := a.ClassifySlide(ctx, slide)
		if err != nil {
			return err
		}
		return blackboard.Put(out, SlideSubjectKey, subject)
	})
}

func describeSlide(a Analyst) capability.Capability {
	return capability.New(capability.Card{
		Name:        "describe_slide",
		Description: "Summarise the concepts covered by the lesson slide",
		Tier:        1,
		Requires:    slots(blackboard.SlideImage),
		Optional:    slots(blackboard.SlideSubject),
		Produces:    slots(blackboard.SlideDescription),
	}, func(ctx context.Context, in *blackboard.View, out *blackboard.Output) error {
		slide, _ := blackboard.Get(in, SlideImageKey)
		subject, _ := blackboard.Get(in, SlideSubjectKey)
		desc, err := a.DescribeSlide(ctx, slide, subject)
		if err != nil {
			return err
		}
		return blackboard.Put(out, SlideDescriptionKey, desc)
	})
}
