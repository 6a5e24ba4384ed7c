package engagement

import (
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	_ "image/png"
	"math"
	"os"
	"path/filepath"
)

// CropFaces cuts every detection box out of the source image and writes the
// crops as JPEGs into dir, in detection order. Boxes are clamped to the
// image; boxes with no area are skipped.
func CropFaces(src string, detections []Detection, dir string) ([]string, error) {
	f, err := os.Open(src)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(src), err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	paths := make([]string, 0, len(detections))
	for i, det := range detections {
		r := image.Rect(
			int(math.Floor(det.Box[0])), int(math.Floor(det.Box[1])),
			int(math.Ceil(det.Box[2])), int(math.Ceil(det.Box[3])),
		).Intersect(bounds)
		if r.Empty() {
			continue
		}
		crop := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
		draw.Draw(crop, crop.Bounds(), img, r.Min, draw.Src)

		path := filepath.Join(dir, fmt.Sprintf("profile_%d.jpg", i))
		if err := writeJPEG(path, crop); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func writeJPEG(path string, img image.Image) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := jpeg.Encode(out, img, &jpeg.Options{Quality: 90}); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
