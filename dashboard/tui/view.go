package tui

import (
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/san-kum/rigwatch/dashboard/link"
	"github.com/san-kum/rigwatch/server/history"
	"github.com/san-kum/rigwatch/server/models"
	"github.com/san-kum/rigwatch/server/telemetry"
)

const (
	barWidth       = 24
	sparkWidth     = 20
	labelWidth     = 16
	valueWidth     = 12
	minPanelWidth  = 40
	panelSeparator = "  "
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("231"))
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("245"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	helpKeyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("239")).Bold(true)
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	critStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	panelStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(0, 1)
	alarmStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("231")).
			Background(lipgloss.Color("160")).
			Padding(0, 2)
)

var sparkBlocks = []rune("▁▂▃▄▅▆▇█")

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	if m.status.State.AlarmActive {
		b.WriteString(alarmStyle.Render("DROWSINESS ALARM  press a to acknowledge"))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	left := panelStyle.Render(m.renderDrill())
	right := panelStyle.Render(m.renderVitals() + "\n\n" + m.renderDrowsiness())
	if m.width > 0 && m.width < 2*minPanelWidth+len(panelSeparator)+4 {
		b.WriteString(lipgloss.JoinVertical(lipgloss.Left, left, right))
	} else {
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, left, panelSeparator, right))
	}
	b.WriteString("\n")

	if m.notice != "" {
		style := dimStyle
		if m.noticeErr {
			style = warnStyle
		}
		b.WriteString(style.Render(m.notice))
		b.WriteString("\n")
	}
	b.WriteString(renderHelp())
	return b.String()
}

func (m Model) renderHeader() string {
	var linkBadge string
	switch m.snap.Link.Mode {
	case link.ModeLive:
		linkBadge = okStyle.Render("● LIVE")
	case link.ModeFallback:
		linkBadge = warnStyle.Render("● OFFLINE (simulated)")
	default:
		linkBadge = dimStyle.Render("○ CONNECTING")
	}

	parts := []string{titleStyle.Render("RIGWATCH"), linkBadge}
	if m.snap.Link.Reconnects > 0 {
		parts = append(parts, dimStyle.Render(fmt.Sprintf("reconnects %d", m.snap.Link.Reconnects)))
	}
	if m.opts.Version != "" {
		parts = append(parts, dimStyle.Render(m.opts.Version))
	}
	return strings.Join(parts, "  ")
}

func (m Model) renderDrill() string {
	var lines []string
	lines = append(lines, headerStyle.Render("DRILL"))

	r := m.snap.Drill
	if r == nil {
		lines = append(lines, dimStyle.Render("waiting for telemetry"))
	} else {
		lines = append(lines, "status  "+drillStatusStyle(r.Status).Render(string(r.Status)))
	}
	run := "stopped"
	if m.controlState.IsRunning {
		run = "running"
	}
	lines = append(lines, dimStyle.Render(fmt.Sprintf("control %s  target %.0f rpm  feed %.0f%%",
		run, m.controlState.TargetRPM, m.controlState.FeedLevel)))
	lines = append(lines, "")

	var severities map[string]models.Severity
	if r != nil {
		severities = worstBySensor(r.Alerts)
	}
	for _, s := range telemetry.DrillSensors {
		value := "--"
		if r != nil {
			value = formatValue(telemetry.DrillValue(r.Sensors, s.Name), s.Unit)
		}
		lines = append(lines, sensorRow(s.Name, value, severities[s.Name],
			m.snap.DrillTrends[s.Name], sparkline(m.snap.DrillSeries[s.Name], s)))
	}

	lines = append(lines, "", dimStyle.Render(fmt.Sprintf("drill alerts %d", m.snap.Counters.DrillAlertsCount)))
	return strings.Join(lines, "\n")
}

func (m Model) renderVitals() string {
	var lines []string
	lines = append(lines, headerStyle.Render("OPERATOR VITALS"))

	r := m.snap.Vitals
	if r == nil {
		lines = append(lines, dimStyle.Render("waiting for vitals"))
		return strings.Join(lines, "\n")
	}
	lines = append(lines, fmt.Sprintf("%s  %s", r.WorkerID, vitalsStatusStyle(r.Status).Render(string(r.Status))))

	severities := worstBySensor(r.Alerts)
	for _, s := range telemetry.VitalSensors {
		value := formatValue(telemetry.VitalValue(r.Vitals, s.Name), s.Unit)
		lines = append(lines, sensorRow(s.Name, value, severities[s.Name], m.snap.VitalTrends[s.Name], ""))
	}
	lines = append(lines, dimStyle.Render(fmt.Sprintf("health alerts %d", m.snap.Counters.HealthAlertsCount)))
	return strings.Join(lines, "\n")
}

func (m Model) renderDrowsiness() string {
	st := m.status
	var lines []string
	lines = append(lines, headerStyle.Render("DROWSINESS"))

	switch {
	case m.toggling && m.cancelToggle != nil:
		lines = append(lines, dimStyle.Render("camera starting...  c to cancel"))
	case m.toggling:
		lines = append(lines, dimStyle.Render("camera switching..."))
	case st.CameraActive:
		lines = append(lines, okStyle.Render("camera on")+dimStyle.Render("  "+st.Source))
	default:
		lines = append(lines, dimStyle.Render("camera off"))
	}
	if st.CameraError != "" {
		lines = append(lines, warnStyle.Render("camera unavailable: "+st.CameraError))
	}
	if !st.CameraActive {
		return strings.Join(lines, "\n")
	}

	obs := st.LastObservation
	eyes := "not visible"
	switch {
	case !obs.FaceDetected:
		eyes = "no face"
	case obs.EyesVisible && obs.EyesOpen:
		eyes = "open"
	case obs.EyesVisible:
		eyes = "closed"
	}
	lines = append(lines, "eyes    "+eyes)

	phase := string(st.State.Phase)
	switch st.State.Phase {
	case models.PhaseAlarmed:
		phase = critStyle.Render(phase)
	case models.PhaseDangerTiming:
		phase = warnStyle.Render(phase)
	default:
		phase = okStyle.Render(phase)
	}
	lines = append(lines, "state   "+phase)

	threshold := m.opts.AlarmThreshold.Seconds()
	frac := 0.0
	if threshold > 0 {
		frac = st.State.DangerDurationSeconds / threshold
	}
	lines = append(lines, fmt.Sprintf("timer   %s %.1fs / %.0fs",
		timerBar(frac), st.State.DangerDurationSeconds, threshold))

	calib := "calibrating"
	if st.Calibrated {
		calib = "calibrated"
	}
	lines = append(lines, dimStyle.Render(fmt.Sprintf("EAR threshold %.3f (%s)  alarms %d",
		st.Threshold, calib, st.Counters.AlarmsTriggered)))
	return strings.Join(lines, "\n")
}

func renderHelp() string {
	keys := []struct{ key, desc string }{
		{"c", "camera"}, {"a", "ack"}, {"s", "start"}, {"x", "stop"}, {"r", "reset"},
		{"+/-", "rpm"}, {"]/[", "feed"}, {"q", "quit"},
	}
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = helpKeyStyle.Render(k.key) + helpStyle.Render(" "+k.desc)
	}
	return strings.Join(parts, helpStyle.Render("  "))
}

func sensorRow(name, value string, sev models.Severity, trend history.Trend, spark string) string {
	style := lipgloss.NewStyle()
	switch sev {
	case models.SeverityCritical:
		style = critStyle
	case models.SeverityWarning:
		style = warnStyle
	}
	row := fmt.Sprintf("%-*s%*s %s", labelWidth, name, valueWidth, value, trendArrow(trend))
	if spark != "" {
		row += " " + dimStyle.Render(spark)
	}
	return style.Render(row)
}

func trendArrow(t history.Trend) string {
	switch t {
	case history.TrendIncreasing:
		return "↑"
	case history.TrendDecreasing:
		return "↓"
	default:
		return "→"
	}
}

func formatValue(v float64, unit string) string {
	if math.Abs(v) >= 100 {
		return fmt.Sprintf("%.0f %s", v, unit)
	}
	return fmt.Sprintf("%.1f %s", v, unit)
}

// sparkline scales the newest sparkWidth values into the sensor's range.
func sparkline(values []float64, s telemetry.Sensor) string {
	if len(values) == 0 || s.Span() <= 0 {
		return ""
	}
	if len(values) > sparkWidth {
		values = values[len(values)-sparkWidth:]
	}
	out := make([]rune, len(values))
	top := len(sparkBlocks) - 1
	for i, v := range values {
		idx := int(math.Round((s.Clamp(v) - s.Min) / s.Span() * float64(top)))
		out[i] = sparkBlocks[idx]
	}
	return string(out)
}

func timerBar(frac float64) string {
	frac = math.Max(0, math.Min(1, frac))
	filled := int(math.Round(frac * barWidth))
	style := okStyle
	switch {
	case frac >= 1:
		style = critStyle
	case frac > 0:
		style = warnStyle
	}
	return style.Render(strings.Repeat("█", filled)) + dimStyle.Render(strings.Repeat("░", barWidth-filled))
}

func worstBySensor(alerts []models.Alert) map[string]models.Severity {
	out := make(map[string]models.Severity, len(alerts))
	for _, a := range alerts {
		if a.Severity.Rank() > out[a.Sensor].Rank() {
			out[a.Sensor] = a.Severity
		}
	}
	return out
}

func drillStatusStyle(s models.DrillStatus) lipgloss.Style {
	switch s {
	case models.DrillCritical:
		return critStyle
	case models.DrillAlert:
		return warnStyle
	case models.DrillRunning:
		return okStyle
	default:
		return dimStyle
	}
}

func vitalsStatusStyle(s models.VitalsStatus) lipgloss.Style {
	switch s {
	case models.VitalsCritical:
		return critStyle
	case models.VitalsWarning:
		return warnStyle
	default:
		return okStyle
	}
}
