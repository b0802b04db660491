package telemetry

import (
	"math"
	"testing"
	"time"

	"github.com/san-kum/rigwatch/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v float64) *float64 { return &v }

func TestDrillReadingsStayInRange(t *testing.T) {
	gen := NewDrillGenerator(NewNoise(7))
	now := time.Unix(1700000000, 0)

	states := []models.ControlState{
		{IsRunning: false},
		{IsRunning: true, TargetRPM: 0, FeedLevel: 0},
		{IsRunning: true, TargetRPM: 3000, FeedLevel: 100},
		{IsRunning: true, TargetRPM: 99999, FeedLevel: 5000},
		{IsRunning: true, TargetRPM: -500, FeedLevel: -1},
		{IsRunning: true, TargetRPM: math.NaN(), FeedLevel: math.Inf(1)},
	}

	for _, cs := range states {
		for i := 0; i < 500; i++ {
			r := gen.Generate(cs, now)
			for _, s := range DrillSensors {
				v := DrillValue(r.Sensors, s.Name)
				require.GreaterOrEqualf(t, v, s.Min, "%s below range for %+v", s.Name, cs)
				require.LessOrEqualf(t, v, s.Max, "%s above range for %+v", s.Name, cs)
			}
		}
	}
}

func TestVitalsReadingsStayInRange(t *testing.T) {
	gen := NewVitalsGenerator(NewNoise(11))
	for _, exertion := range []float64{-3, 0, 0.5, 1, 42} {
		for i := 0; i < 500; i++ {
			r := gen.Generate(models.VitalsState{WorkerID: "w-1", Exertion: exertion}, time.Now())
			for _, s := range VitalSensors {
				v := VitalValue(r.Vitals, s.Name)
				require.GreaterOrEqual(t, v, s.Min, s.Name)
				require.LessOrEqual(t, v, s.Max, s.Name)
			}
			assert.Equal(t, "w-1", r.WorkerID)
		}
	}
}

func TestDrillStatus(t *testing.T) {
	gen := NewDrillGenerator(NewNoise(1))
	now := time.Now()

	stopped := gen.Generate(models.ControlState{IsRunning: false, TargetRPM: 3000, FeedLevel: 100}, now)
	assert.Equal(t, models.DrillStopped, stopped.Status)
	assert.Empty(t, stopped.Alerts)
	assert.NotNil(t, stopped.Alerts)

	calm := gen.Generate(models.ControlState{IsRunning: true, TargetRPM: 800, FeedLevel: 10}, now)
	assert.Equal(t, models.DrillRunning, calm.Status)
	assert.Empty(t, calm.Alerts)

	// Full load pins rpm above its critical limit.
	hot := gen.Generate(models.ControlState{IsRunning: true, TargetRPM: 3000, FeedLevel: 100}, now)
	assert.Equal(t, models.DrillCritical, hot.Status)
	require.NotEmpty(t, hot.Alerts)
	ids := map[string]bool{}
	for _, a := range hot.Alerts {
		assert.False(t, ids[a.ID], "alert ids must be unique")
		ids[a.ID] = true
		assert.Equal(t, now, a.Timestamp)
	}
}

func TestEvaluateThresholds(t *testing.T) {
	vib, _ := Lookup(DrillSensors, SensorVibration)
	spo2, _ := Lookup(VitalSensors, VitalSpO2)
	hum, _ := Lookup(DrillSensors, SensorHumidity)

	cases := []struct {
		name   string
		sensor Sensor
		value  float64
		want   models.Severity
	}{
		{"below_warning", vib, 7.9, ""},
		{"at_warning", vib, 8, models.SeverityWarning},
		{"between", vib, 11.9, models.SeverityWarning},
		{"at_critical", vib, 12, models.SeverityCritical},
		{"spo2_ok", spo2, 97, ""},
		{"spo2_low", spo2, 94, models.SeverityWarning},
		{"spo2_critical", spo2, 89, models.SeverityCritical},
		{"no_limits", hum, 100, ""},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			a, ok := evaluate(c.sensor, c.value, time.Now())
			if c.want == "" {
				assert.False(t, ok)
				return
			}
			require.True(t, ok)
			assert.Equal(t, c.want, a.Severity)
			assert.Equal(t, c.sensor.Name, a.Sensor)
			assert.NotEmpty(t, a.ID)
		})
	}
}

func TestApplyCommands(t *testing.T) {
	cs := DefaultControlState()

	cs, err := Apply(cs, models.Command{Command: models.CommandStart})
	require.NoError(t, err)
	assert.True(t, cs.IsRunning)

	cs, err = Apply(cs, models.Command{Command: models.CommandSetRPM, Value: ptr(5000)})
	require.NoError(t, err)
	assert.Equal(t, float64(MaxTargetRPM), cs.TargetRPM)

	cs, err = Apply(cs, models.Command{Command: models.CommandSetFeed, Value: ptr(-20)})
	require.NoError(t, err)
	assert.Equal(t, 0.0, cs.FeedLevel)

	cs, err = Apply(cs, models.Command{Command: models.CommandSetFeed})
	require.NoError(t, err)
	assert.Equal(t, 0.0, cs.FeedLevel)

	cs, err = Apply(cs, models.Command{Command: models.CommandStop})
	require.NoError(t, err)
	assert.False(t, cs.IsRunning)

	cs, err = Apply(cs, models.Command{Command: models.CommandReset})
	require.NoError(t, err)
	assert.Equal(t, DefaultControlState(), cs)

	_, err = Apply(cs, models.Command{Command: "DRILL_HARDER"})
	assert.ErrorIs(t, err, ErrUnknownCommand)
}

func TestNoiseIsDeterministic(t *testing.T) {
	a, b := NewNoise(42), NewNoise(42)
	for i := 0; i < 100; i++ {
		x, y := a.Uniform(3), b.Uniform(3)
		require.Equal(t, x, y)
		require.LessOrEqual(t, math.Abs(x), 3.0)
	}
}

func TestExertion(t *testing.T) {
	assert.InDelta(t, 0.1, Exertion(models.ControlState{}), 1e-9)
	assert.InDelta(t, 1.0, Exertion(models.ControlState{IsRunning: true, TargetRPM: 9000, FeedLevel: 100}), 1e-9)
	idle := Exertion(models.ControlState{IsRunning: true})
	busy := Exertion(models.ControlState{IsRunning: true, TargetRPM: 2000, FeedLevel: 80})
	assert.Less(t, idle, busy)
}
