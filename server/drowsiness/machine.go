package drowsiness

import (
	"time"

	"github.com/san-kum/rigwatch/server/models"
)

const (
	DefaultAlarmThreshold = 5 * time.Second
	DefaultDebounce       = 500 * time.Millisecond
)

type Classification int

const (
	Safe Classification = iota
	Unsafe
)

func (c Classification) String() string {
	if c == Safe {
		return "safe"
	}
	return "unsafe"
}

// Classify is SAFE only when the eyes are visible and open. No face, eyes
// not visible and eyes closed are all UNSAFE.
func Classify(obs models.EyeObservation) Classification {
	if obs.EyesVisible && obs.EyesOpen {
		return Safe
	}
	return Unsafe
}

// Event is what a call to Observe changed.
type Event int

const (
	EventNone Event = iota
	EventTimerStarted
	EventAlarmTriggered
	EventTimerCleared
)

type MachineConfig struct {
	AlarmThreshold time.Duration
	Debounce       time.Duration
}

// Machine tracks continuous danger time in wall-clock terms and latches the
// alarm. The alarm clears only through Acknowledge or Reset. Machine is not
// safe for concurrent use; Monitor serializes access.
type Machine struct {
	cfg MachineConfig

	dangerStartedAt time.Time
	safeSince       time.Time
	lastStableOpen  time.Time
	lastObserved    time.Time
	alarmActive     bool
}

func NewMachine(cfg MachineConfig) *Machine {
	if cfg.AlarmThreshold <= 0 {
		cfg.AlarmThreshold = DefaultAlarmThreshold
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	return &Machine{cfg: cfg}
}

func (m *Machine) Config() MachineConfig {
	return m.cfg
}

// Observe applies one observation that arrived at now. Observations must be
// fed in arrival order; one that is older than the previous is ignored.
func (m *Machine) Observe(obs models.EyeObservation, now time.Time) Event {
	if !m.lastObserved.IsZero() && now.Before(m.lastObserved) {
		return EventNone
	}
	m.lastObserved = now

	if Classify(obs) == Unsafe {
		m.safeSince = time.Time{}
		ev := EventNone
		if m.dangerStartedAt.IsZero() {
			m.dangerStartedAt = now
			ev = EventTimerStarted
		}
		if !m.alarmActive && now.Sub(m.dangerStartedAt) >= m.cfg.AlarmThreshold {
			m.alarmActive = true
			return EventAlarmTriggered
		}
		return ev
	}

	if m.dangerStartedAt.IsZero() {
		m.lastStableOpen = now
		return EventNone
	}
	if m.safeSince.IsZero() {
		m.safeSince = now
	}
	if now.Sub(m.safeSince) >= m.cfg.Debounce {
		m.dangerStartedAt = time.Time{}
		m.safeSince = time.Time{}
		m.lastStableOpen = now
		return EventTimerCleared
	}
	return EventNone
}

// Acknowledge clears a latched alarm together with all timer state. It is a
// no-op returning false when no alarm is active.
func (m *Machine) Acknowledge() bool {
	if !m.alarmActive {
		return false
	}
	m.Reset()
	return true
}

// Reset returns the machine to SAFE with nothing remembered.
func (m *Machine) Reset() {
	m.dangerStartedAt = time.Time{}
	m.safeSince = time.Time{}
	m.lastStableOpen = time.Time{}
	m.lastObserved = time.Time{}
	m.alarmActive = false
}

func (m *Machine) AlarmActive() bool {
	return m.alarmActive
}

func (m *Machine) Phase() models.DrowsinessPhase {
	switch {
	case m.alarmActive:
		return models.PhaseAlarmed
	case !m.dangerStartedAt.IsZero():
		return models.PhaseDangerTiming
	default:
		return models.PhaseSafe
	}
}

// DangerDuration is now minus the start of the current unsafe episode, or
// zero outside one.
func (m *Machine) DangerDuration(now time.Time) time.Duration {
	if m.dangerStartedAt.IsZero() {
		return 0
	}
	d := now.Sub(m.dangerStartedAt)
	if d < 0 {
		return 0
	}
	return d
}

// Snapshot copies the state for readers.
func (m *Machine) Snapshot(now time.Time) models.DrowsinessState {
	st := models.DrowsinessState{
		Phase:                 m.Phase(),
		DangerDurationSeconds: m.DangerDuration(now).Seconds(),
		AlarmActive:           m.alarmActive,
	}
	if !m.dangerStartedAt.IsZero() {
		t := m.dangerStartedAt
		st.DangerStartedAt = &t
	}
	if !m.lastStableOpen.IsZero() {
		t := m.lastStableOpen
		st.LastStableOpenObservedAt = &t
	}
	return st
}
