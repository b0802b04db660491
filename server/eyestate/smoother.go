package eyestate

import (
	"math"

	"github.com/san-kum/rigwatch/server/models"
)

const (
	DefaultWindow            = 5
	DefaultThreshold         = 0.26
	DefaultCalibrationFrames = 20
	DefaultCalibrationFloor  = 0.25
	DefaultCalibrationAlpha  = 0.1
	DefaultBaselineFactor    = 0.8
	DefaultMaxThreshold      = 0.30
)

type Config struct {
	Window    int
	Threshold float64

	// Adaptive replaces Threshold with a per-user value once calibration
	// has collected CalibrationFrames samples above CalibrationFloor.
	Adaptive          bool
	CalibrationFrames int
	CalibrationFloor  float64
	CalibrationAlpha  float64
	BaselineFactor    float64
	MaxThreshold      float64
}

func DefaultConfig() Config {
	return Config{
		Window:            DefaultWindow,
		Threshold:         DefaultThreshold,
		Adaptive:          true,
		CalibrationFrames: DefaultCalibrationFrames,
		CalibrationFloor:  DefaultCalibrationFloor,
		CalibrationAlpha:  DefaultCalibrationAlpha,
		BaselineFactor:    DefaultBaselineFactor,
		MaxThreshold:      DefaultMaxThreshold,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Window <= 0 {
		c.Window = d.Window
	}
	if c.Threshold <= 0 {
		c.Threshold = d.Threshold
	}
	if c.CalibrationFrames <= 0 {
		c.CalibrationFrames = d.CalibrationFrames
	}
	if c.CalibrationFloor <= 0 {
		c.CalibrationFloor = d.CalibrationFloor
	}
	if c.CalibrationAlpha <= 0 || c.CalibrationAlpha > 1 {
		c.CalibrationAlpha = d.CalibrationAlpha
	}
	if c.BaselineFactor <= 0 {
		c.BaselineFactor = d.BaselineFactor
	}
	if c.MaxThreshold <= 0 {
		c.MaxThreshold = d.MaxThreshold
	}
	return c
}

// Smoother debounces the per-frame eye aspect ratio with a moving mean and
// classifies it against a fixed or calibrated threshold. Not safe for
// concurrent use; the drowsiness monitor owns one per camera session.
type Smoother struct {
	cfg       Config
	window    []float64
	threshold float64
	calib     *Calibrator
}

func NewSmoother(cfg Config) *Smoother {
	cfg = cfg.withDefaults()
	s := &Smoother{
		cfg:       cfg,
		window:    make([]float64, 0, cfg.Window),
		threshold: cfg.Threshold,
	}
	if cfg.Adaptive {
		s.calib = NewCalibrator(cfg)
	}
	return s
}

// Push adds one ratio and returns the smoothed value. A closing sample
// after a fully open window restarts the window so a real closure shows up
// on this frame instead of several frames later.
func (s *Smoother) Push(ratio float64) float64 {
	if math.IsNaN(ratio) || ratio < 0 {
		ratio = 0
	}
	if s.calib != nil && !s.calib.Done() {
		if s.calib.Add(ratio) {
			s.threshold = s.calib.Threshold()
		}
	}

	if ratio <= s.threshold && len(s.window) == s.cfg.Window && s.allOpen() {
		s.window = s.window[:0]
	}
	if len(s.window) == s.cfg.Window {
		copy(s.window, s.window[1:])
		s.window = s.window[:len(s.window)-1]
	}
	s.window = append(s.window, ratio)
	return s.Smoothed()
}

func (s *Smoother) allOpen() bool {
	for _, v := range s.window {
		if v <= s.threshold {
			return false
		}
	}
	return true
}

// Smoothed is the arithmetic mean of the window, 0 when empty.
func (s *Smoother) Smoothed() float64 {
	if len(s.window) == 0 {
		return 0
	}
	var sum float64
	for _, v := range s.window {
		sum += v
	}
	return sum / float64(len(s.window))
}

func (s *Smoother) Threshold() float64 {
	return s.threshold
}

func (s *Smoother) Calibrated() bool {
	return s.calib != nil && s.calib.Done()
}

// Observe converts a raw sample into the observation the state machine
// consumes. Frames without readable eyes do not touch the window.
func (s *Smoother) Observe(sample models.EyeSample) models.EyeObservation {
	if !sample.FaceDetected {
		return models.EyeObservation{}
	}
	if !sample.EyesVisible {
		return models.EyeObservation{FaceDetected: true}
	}
	smoothed := s.Push(sample.Ratio)
	return models.EyeObservation{
		FaceDetected: true,
		EyesVisible:  true,
		EyesOpen:     smoothed > s.threshold,
	}
}

// Reset drops the window. Calibration survives; it belongs to the user, not
// to the episode.
func (s *Smoother) Reset() {
	s.window = s.window[:0]
}
