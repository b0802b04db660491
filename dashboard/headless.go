package main

import (
	"context"
	"time"

	"github.com/san-kum/rigwatch/dashboard/board"
	"github.com/san-kum/rigwatch/server/drowsiness"
	"go.uber.org/zap"
)

type statusReader interface {
	Status() drowsiness.Status
}

// runHeadless replaces the TUI when there is no terminal: a summary line
// every interval, and a warning as soon as the drowsiness alarm latches.
func runHeadless(ctx context.Context, b *board.Board, mon statusReader, interval time.Duration, logger *zap.Logger) error {
	report := time.NewTicker(interval)
	defer report.Stop()
	watch := time.NewTicker(drowsiness.DefaultInterval)
	defer watch.Stop()

	alarmed := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-report.C:
			logSnapshot(logger, b.Snapshot(), mon.Status())
		case <-watch.C:
			alarmed = watchAlarm(logger, mon.Status(), alarmed)
		}
	}
}

func watchAlarm(logger *zap.Logger, st drowsiness.Status, was bool) bool {
	now := st.State.AlarmActive
	switch {
	case now && !was:
		logger.Warn("Drowsiness alarm active",
			zap.Float64("danger_seconds", st.State.DangerDurationSeconds))
	case !now && was:
		logger.Info("Drowsiness alarm cleared")
	}
	return now
}

func logSnapshot(logger *zap.Logger, s board.Snapshot, st drowsiness.Status) {
	fields := []zap.Field{
		zap.String("link", string(s.Link.Mode)),
		zap.Int64("reconnects", s.Link.Reconnects),
		zap.Int64("drill_alerts", s.Counters.DrillAlertsCount),
		zap.Int64("health_alerts", s.Counters.HealthAlertsCount),
		zap.Bool("camera", st.CameraActive),
		zap.String("drowsiness", string(st.State.Phase)),
	}
	if s.Drill != nil {
		fields = append(fields,
			zap.String("drill_status", string(s.Drill.Status)),
			zap.Float64("rpm", s.Drill.Sensors.RPM),
			zap.Float64("temperature", s.Drill.Sensors.Temperature),
			zap.Int("active_drill_alerts", len(s.Drill.Alerts)))
	}
	if s.Vitals != nil {
		fields = append(fields,
			zap.String("vitals_status", string(s.Vitals.Status)),
			zap.Float64("heart_rate", s.Vitals.Vitals.HeartRate),
			zap.Float64("spo2", s.Vitals.Vitals.SpO2))
	}
	logger.Info("Rig status", fields...)
}
