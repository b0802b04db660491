package telemetry

import (
	"math"

	"github.com/san-kum/rigwatch/server/models"
)

// Direction says which side of a threshold is bad.
type Direction int

const (
	Above Direction = iota
	Below
)

// Sensor describes one generated channel: its physical range, noise
// amplitude and optional warning/critical thresholds.
type Sensor struct {
	Name     string
	Unit     string
	Min      float64
	Max      float64
	Noise    float64
	Warning  float64
	Critical float64
	Dir      Direction
	HasLimit bool
}

// Span is the declared range width used for trend computation.
func (s Sensor) Span() float64 {
	return s.Max - s.Min
}

// Clamp pins v into [Min, Max]. NaN collapses to Min.
func (s Sensor) Clamp(v float64) float64 {
	if math.IsNaN(v) {
		return s.Min
	}
	return math.Max(s.Min, math.Min(s.Max, v))
}

func (s Sensor) crossed(v, limit float64) bool {
	if s.Dir == Below {
		return v <= limit
	}
	return v >= limit
}

// Drill sensor names double as JSON field names on DrillSensors.
const (
	SensorRPM         = "rpm"
	SensorVibration   = "vibration"
	SensorSound       = "sound"
	SensorTemperature = "temperature"
	SensorHumidity    = "humidity"
	SensorPressure    = "pressure"
	SensorCurrent     = "current"
)

var DrillSensors = []Sensor{
	{Name: SensorRPM, Unit: "rpm", Min: 0, Max: 3000, Noise: 40, Warning: 2700, Critical: 2900, HasLimit: true},
	{Name: SensorVibration, Unit: "mm/s", Min: 0, Max: 20, Noise: 0.5, Warning: 8, Critical: 12, HasLimit: true},
	{Name: SensorSound, Unit: "dB", Min: 30, Max: 130, Noise: 2, Warning: 95, Critical: 110, HasLimit: true},
	{Name: SensorTemperature, Unit: "°C", Min: 0, Max: 150, Noise: 1.5, Warning: 80, Critical: 100, HasLimit: true},
	{Name: SensorHumidity, Unit: "%", Min: 0, Max: 100, Noise: 3},
	{Name: SensorPressure, Unit: "bar", Min: 0, Max: 300, Noise: 5, Warning: 220, Critical: 260, HasLimit: true},
	{Name: SensorCurrent, Unit: "A", Min: 0, Max: 200, Noise: 3, Warning: 110, Critical: 150, HasLimit: true},
}

const (
	VitalPulseRate       = "pulseRate"
	VitalHeartRate       = "heartRate"
	VitalSpO2            = "spO2"
	VitalBloodPressure   = "bloodPressure"
	VitalTemperature     = "temperature"
	VitalRespirationRate = "respirationRate"
)

var VitalSensors = []Sensor{
	{Name: VitalPulseRate, Unit: "bpm", Min: 40, Max: 180, Noise: 4, Warning: 110, Critical: 140, HasLimit: true},
	{Name: VitalHeartRate, Unit: "bpm", Min: 40, Max: 180, Noise: 4, Warning: 110, Critical: 140, HasLimit: true},
	{Name: VitalSpO2, Unit: "%", Min: 80, Max: 100, Noise: 1, Warning: 94, Critical: 90, Dir: Below, HasLimit: true},
	{Name: VitalBloodPressure, Unit: "mmHg", Min: 80, Max: 200, Noise: 6, Warning: 140, Critical: 160, HasLimit: true},
	{Name: VitalTemperature, Unit: "°C", Min: 34, Max: 42, Noise: 0.2, Warning: 37.8, Critical: 39, HasLimit: true},
	{Name: VitalRespirationRate, Unit: "br/min", Min: 8, Max: 40, Noise: 1.5, Warning: 24, Critical: 30, HasLimit: true},
}

// Lookup finds a sensor definition by name in the given table.
func Lookup(table []Sensor, name string) (Sensor, bool) {
	for _, s := range table {
		if s.Name == name {
			return s, true
		}
	}
	return Sensor{}, false
}

// DrillValue reads one named channel off a drill sensor block.
func DrillValue(s models.DrillSensors, name string) float64 {
	switch name {
	case SensorRPM:
		return s.RPM
	case SensorVibration:
		return s.Vibration
	case SensorSound:
		return s.Sound
	case SensorTemperature:
		return s.Temperature
	case SensorHumidity:
		return s.Humidity
	case SensorPressure:
		return s.Pressure
	case SensorCurrent:
		return s.Current
	}
	return 0
}

// VitalValue reads one named channel off a vitals block.
func VitalValue(v models.Vitals, name string) float64 {
	switch name {
	case VitalPulseRate:
		return v.PulseRate
	case VitalHeartRate:
		return v.HeartRate
	case VitalSpO2:
		return v.SpO2
	case VitalBloodPressure:
		return v.BloodPressure
	case VitalTemperature:
		return v.Temperature
	case VitalRespirationRate:
		return v.RespirationRate
	}
	return 0
}
