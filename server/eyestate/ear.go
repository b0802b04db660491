package eyestate

import (
	"math"

	"github.com/san-kum/rigwatch/server/models"
)

// LandmarksPerEye is the landmark count of the six-point eye model:
// two corners, two upper lid points, two lower lid points.
const LandmarksPerEye = 6

const minHorizontal = 1e-6

// EyeAspectRatio computes (|p2-p6| + |p3-p5|) / (2|p1-p4|) over a six-point
// eye. Malformed input yields 0, which classifies as closed.
func EyeAspectRatio(eye []models.Point) float64 {
	if len(eye) != LandmarksPerEye {
		return 0
	}
	horizontal := dist(eye[0], eye[3])
	if horizontal < minHorizontal || math.IsNaN(horizontal) || math.IsInf(horizontal, 0) {
		return 0
	}
	ear := (dist(eye[1], eye[5]) + dist(eye[2], eye[4])) / (2 * horizontal)
	if math.IsNaN(ear) || math.IsInf(ear, 0) || ear < 0 {
		return 0
	}
	return ear
}

// SampleFromFaces turns a classifier result into a raw sample. No face
// means no face; a face without both eye sets means eyes not visible.
// A present but malformed eye counts as closed and is averaged with the
// other one.
func SampleFromFaces(res models.FaceResult) models.EyeSample {
	if len(res.Faces) == 0 {
		return models.EyeSample{}
	}
	face := res.Faces[0]
	if len(face.LeftEye) == 0 || len(face.RightEye) == 0 {
		return models.EyeSample{FaceDetected: true}
	}
	ratio := (EyeAspectRatio(face.LeftEye) + EyeAspectRatio(face.RightEye)) / 2
	return models.EyeSample{FaceDetected: true, EyesVisible: true, Ratio: ratio}
}

func dist(a, b models.Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}
