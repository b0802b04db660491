package eyestate

import "math"

// Calibrator learns a per-user open-eye baseline with an exponential moving
// average over the first frames that look open.
type Calibrator struct {
	target   int
	floor    float64
	alpha    float64
	factor   float64
	ceiling  float64
	frames   int
	baseline float64
}

func NewCalibrator(cfg Config) *Calibrator {
	cfg = cfg.withDefaults()
	return &Calibrator{
		target:  cfg.CalibrationFrames,
		floor:   cfg.CalibrationFloor,
		alpha:   cfg.CalibrationAlpha,
		factor:  cfg.BaselineFactor,
		ceiling: cfg.MaxThreshold,
	}
}

// Add feeds one ratio and reports whether calibration is complete.
// Ratios at or below the floor are ignored.
func (c *Calibrator) Add(ratio float64) bool {
	if c.Done() {
		return true
	}
	if ratio <= c.floor || math.IsNaN(ratio) {
		return false
	}
	if c.frames == 0 {
		c.baseline = ratio
	} else {
		c.baseline = c.alpha*ratio + (1-c.alpha)*c.baseline
	}
	c.frames++
	return c.Done()
}

func (c *Calibrator) Done() bool {
	return c.frames >= c.target
}

func (c *Calibrator) Baseline() float64 {
	return c.baseline
}

// Threshold is min(baseline*factor, ceiling).
func (c *Calibrator) Threshold() float64 {
	return math.Min(c.baseline*c.factor, c.ceiling)
}

// Calibrate runs a calibration over samples and returns the learned
// threshold, or false if the stream had too few open-looking frames.
func Calibrate(samples []float64, cfg Config) (float64, bool) {
	c := NewCalibrator(cfg)
	for _, s := range samples {
		if c.Add(s) {
			return c.Threshold(), true
		}
	}
	return 0, false
}
