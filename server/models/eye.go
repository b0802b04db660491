package models

import "time"

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// EyeObservation is one post-smoothing classification. EyesOpen carries no
// meaning when EyesVisible is false.
type EyeObservation struct {
	EyesOpen     bool `json:"eyesOpen"`
	EyesVisible  bool `json:"eyesVisible"`
	FaceDetected bool `json:"faceDetected"`
}

// EyeSample is a raw per-frame classifier output before smoothing.
type EyeSample struct {
	FaceDetected bool    `json:"faceDetected"`
	EyesVisible  bool    `json:"eyesVisible"`
	Ratio        float64 `json:"ratio"`
}

// FaceResult is what the liveness classifier returns for one frame:
// zero or one face, each with zero or two six-point eye landmark sets.
type FaceResult struct {
	Faces []Face `json:"faces"`
}

type Face struct {
	Confidence float64     `json:"confidence"`
	LeftEye    []Point     `json:"left_eye,omitempty"`
	RightEye   []Point     `json:"right_eye,omitempty"`
	Box        BoundingBox `json:"box"`
}

type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type DrowsinessPhase string

const (
	PhaseSafe         DrowsinessPhase = "SAFE"
	PhaseDangerTiming DrowsinessPhase = "DANGER_TIMING"
	PhaseAlarmed      DrowsinessPhase = "ALARMED"
)

// DrowsinessState is owned by the drowsiness state machine. Readers get copies.
type DrowsinessState struct {
	Phase                    DrowsinessPhase `json:"phase"`
	DangerStartedAt          *time.Time      `json:"dangerStartedAt"`
	DangerDurationSeconds    float64         `json:"dangerDurationSeconds"`
	AlarmActive              bool            `json:"alarmActive"`
	LastStableOpenObservedAt *time.Time      `json:"lastStableOpenObservedAt"`
}
