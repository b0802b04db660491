package telemetry

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/san-kum/rigwatch/server/models"
)

// stoppedNoiseScale damps noise on an idle rig so a stopped drill does not
// report phantom RPM.
const stoppedNoiseScale = 0.1

// Noise draws bounded uniform perturbations. It is safe for concurrent use.
type Noise struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewNoise returns a seeded noise source; equal seeds give equal sequences.
func NewNoise(seed uint64) *Noise {
	return &Noise{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Uniform returns a value in [-amplitude, amplitude].
func (n *Noise) Uniform(amplitude float64) float64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return (n.rng.Float64()*2 - 1) * amplitude
}

// Float64 returns a value in [0, 1).
func (n *Noise) Float64() float64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.rng.Float64()
}

type DrillGenerator struct {
	noise *Noise
}

func NewDrillGenerator(noise *Noise) *DrillGenerator {
	return &DrillGenerator{noise: noise}
}

func drillBaseline(cs models.ControlState) map[string]float64 {
	if !cs.IsRunning {
		return map[string]float64{
			SensorRPM:         0,
			SensorVibration:   0.2,
			SensorSound:       40,
			SensorTemperature: 25,
			SensorHumidity:    45,
			SensorPressure:    1,
			SensorCurrent:     0.5,
		}
	}
	load := cs.TargetRPM / MaxTargetRPM
	feed := cs.FeedLevel
	return map[string]float64{
		SensorRPM:         cs.TargetRPM,
		SensorVibration:   2 + load*6 + feed*0.04,
		SensorSound:       65 + load*25 + feed*0.05,
		SensorTemperature: 35 + load*35 + feed*0.25,
		SensorHumidity:    45,
		SensorPressure:    60 + load*20 + feed*1.6,
		SensorCurrent:     15 + load*70 + feed*0.4,
	}
}

// Generate produces one drill reading. It never fails: the control state
// is normalized first and every sensor is clamped into its range.
func (g *DrillGenerator) Generate(cs models.ControlState, now time.Time) models.TelemetryReading {
	cs = Normalize(cs)
	base := drillBaseline(cs)
	scale := 1.0
	if !cs.IsRunning {
		scale = stoppedNoiseScale
	}

	values := make(map[string]float64, len(DrillSensors))
	var alerts []models.Alert
	for _, s := range DrillSensors {
		v := s.Clamp(base[s.Name] + g.noise.Uniform(s.Noise*scale))
		values[s.Name] = v
		if a, ok := evaluate(s, v, now); ok {
			alerts = append(alerts, a)
		}
	}

	reading := models.TelemetryReading{
		Timestamp: now,
		Sensors: models.DrillSensors{
			RPM:         values[SensorRPM],
			Vibration:   values[SensorVibration],
			Sound:       values[SensorSound],
			Temperature: values[SensorTemperature],
			Humidity:    values[SensorHumidity],
			Pressure:    values[SensorPressure],
			Current:     values[SensorCurrent],
		},
		Alerts: alerts,
	}
	if reading.Alerts == nil {
		reading.Alerts = []models.Alert{}
	}
	reading.Status = drillStatus(cs.IsRunning, alerts)
	return reading
}

func drillStatus(running bool, alerts []models.Alert) models.DrillStatus {
	if !running {
		return models.DrillStopped
	}
	switch worst(alerts) {
	case models.SeverityCritical:
		return models.DrillCritical
	case models.SeverityWarning:
		return models.DrillAlert
	default:
		return models.DrillRunning
	}
}

type VitalsGenerator struct {
	noise *Noise
}

func NewVitalsGenerator(noise *Noise) *VitalsGenerator {
	return &VitalsGenerator{noise: noise}
}

func vitalsBaseline(exertion float64) map[string]float64 {
	return map[string]float64{
		VitalPulseRate:       72 + exertion*60,
		VitalHeartRate:       72 + exertion*60,
		VitalSpO2:            98 - exertion*4,
		VitalBloodPressure:   118 + exertion*40,
		VitalTemperature:     36.7 + exertion*1.2,
		VitalRespirationRate: 15 + exertion*12,
	}
}

// Generate produces one vitals reading for the worker in vs.
func (g *VitalsGenerator) Generate(vs models.VitalsState, now time.Time) models.VitalsReading {
	base := vitalsBaseline(clamp(vs.Exertion, 0, 1))

	values := make(map[string]float64, len(VitalSensors))
	var alerts []models.Alert
	for _, s := range VitalSensors {
		v := s.Clamp(base[s.Name] + g.noise.Uniform(s.Noise))
		values[s.Name] = v
		if a, ok := evaluate(s, v, now); ok {
			alerts = append(alerts, a)
		}
	}
	if alerts == nil {
		alerts = []models.Alert{}
	}

	status := models.VitalsNormal
	switch worst(alerts) {
	case models.SeverityCritical:
		status = models.VitalsCritical
	case models.SeverityWarning:
		status = models.VitalsWarning
	}

	return models.VitalsReading{
		WorkerID:  vs.WorkerID,
		Timestamp: now,
		Status:    status,
		Vitals: models.Vitals{
			PulseRate:       values[VitalPulseRate],
			HeartRate:       values[VitalHeartRate],
			SpO2:            values[VitalSpO2],
			BloodPressure:   values[VitalBloodPressure],
			Temperature:     values[VitalTemperature],
			RespirationRate: values[VitalRespirationRate],
		},
		FaceDetection: vs.FaceDetection,
		Alerts:        alerts,
	}
}

// evaluate applies the threshold policy: critical wins over warning.
func evaluate(s Sensor, v float64, now time.Time) (models.Alert, bool) {
	if !s.HasLimit {
		return models.Alert{}, false
	}
	var sev models.Severity
	var limit float64
	switch {
	case s.crossed(v, s.Critical):
		sev, limit = models.SeverityCritical, s.Critical
	case s.crossed(v, s.Warning):
		sev, limit = models.SeverityWarning, s.Warning
	default:
		return models.Alert{}, false
	}
	return models.Alert{
		ID:        uuid.NewString(),
		Severity:  sev,
		Sensor:    s.Name,
		Message:   fmt.Sprintf("%s %.1f %s crossed %s limit %.1f", s.Name, v, s.Unit, sev, limit),
		Timestamp: now,
	}, true
}

func worst(alerts []models.Alert) models.Severity {
	var w models.Severity
	for _, a := range alerts {
		if a.Severity.Rank() > w.Rank() {
			w = a.Severity
		}
	}
	return w
}
