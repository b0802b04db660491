package models

import "time"

type DrillStatus string

const (
	DrillRunning  DrillStatus = "Running"
	DrillStopped  DrillStatus = "Stopped"
	DrillAlert    DrillStatus = "Alert"
	DrillCritical DrillStatus = "Critical"
)

type VitalsStatus string

const (
	VitalsNormal   VitalsStatus = "Normal"
	VitalsWarning  VitalsStatus = "Warning"
	VitalsCritical VitalsStatus = "Critical"
)

type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Rank orders severities so the worst one can be picked with a plain comparison.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}

// Alert is an "active this tick" threshold crossing. Alerts are never mutated
// or deduplicated across readings.
type Alert struct {
	ID        string    `json:"id"`
	Severity  Severity  `json:"severity"`
	Sensor    string    `json:"sensor"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type DrillSensors struct {
	RPM         float64 `json:"rpm"`
	Vibration   float64 `json:"vibration"`
	Sound       float64 `json:"sound"`
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	Pressure    float64 `json:"pressure"`
	Current     float64 `json:"current"`
}

type TelemetryReading struct {
	Timestamp time.Time    `json:"timestamp"`
	Status    DrillStatus  `json:"status"`
	Sensors   DrillSensors `json:"sensors"`
	Alerts    []Alert      `json:"alerts"`
}

type Vitals struct {
	PulseRate       float64 `json:"pulseRate"`
	HeartRate       float64 `json:"heartRate"`
	SpO2            float64 `json:"spO2"`
	BloodPressure   float64 `json:"bloodPressure"`
	Temperature     float64 `json:"temperature"`
	RespirationRate float64 `json:"respirationRate"`
}

type FaceDetection struct {
	FaceDetected bool `json:"faceDetected"`
	EyesOpen     bool `json:"eyesOpen"`
	CameraActive bool `json:"cameraActive"`
}

type VitalsReading struct {
	WorkerID      string        `json:"workerId"`
	Timestamp     time.Time     `json:"timestamp"`
	Status        VitalsStatus  `json:"status"`
	Vitals        Vitals        `json:"vitals"`
	FaceDetection FaceDetection `json:"faceDetection"`
	Alerts        []Alert       `json:"alerts"`
}

// ControlState is the small mutable record the drill generator derives
// its baselines from.
type ControlState struct {
	IsRunning bool    `json:"isRunning"`
	TargetRPM float64 `json:"targetRpm"`
	FeedLevel float64 `json:"feedLevel"`
}

// VitalsState drives the vitals generator for one worker.
type VitalsState struct {
	WorkerID      string        `json:"workerId"`
	Exertion      float64       `json:"exertion"`
	FaceDetection FaceDetection `json:"faceDetection"`
}

// AlertCounters are read by the session logging collaborator.
type AlertCounters struct {
	HealthAlertsCount int64 `json:"healthAlertsCount"`
	DrillAlertsCount  int64 `json:"drillAlertsCount"`
}
