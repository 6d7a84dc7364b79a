package pipeline

import (
	"fmt"
	"strings"

	"github.com/driveline/driveline/internal/feeds"
)

const analysisSystemPrompt = `You are a rideshare strategy expert analyzing current market conditions for a driver.`

const consolidationSystemPrompt = `You are a rideshare strategy expert. Consolidate the provided analysis into one concise, actionable strategy briefing for the driver.`

// Snapshot is the driver context a pipeline run is keyed and prompted by
type Snapshot struct {
	ID        string  `json:"id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address,omitempty"`
	LocalTime string  `json:"local_time,omitempty"`
	DayOfWeek string  `json:"day_of_week,omitempty"`
}

func buildAnalysisPrompt(snap Snapshot) string {
	var b strings.Builder

	b.WriteString("DRIVER CONTEXT:\n")
	fmt.Fprintf(&b, "- Location: %s\n", orUnknown(snap.Address))
	fmt.Fprintf(&b, "- GPS: %.4f, %.4f\n", snap.Latitude, snap.Longitude)
	fmt.Fprintf(&b, "- Time: %s (%s)\n", orUnknown(snap.LocalTime), orUnknown(snap.DayOfWeek))

	b.WriteString(`
TASK:
Analyze the current market conditions and provide strategic recommendations for maximizing driver earnings.

Include:
1. Market overview (demand patterns, surge likelihood)
2. Strategic insights (why certain areas are hot, timing considerations)
3. Pro tips (specific actionable advice)
4. Earnings estimate (hourly potential based on conditions)

Write 200-300 words of actionable strategic analysis.`)

	return b.String()
}

func buildConsolidationPrompt(snap Snapshot, analysis string, report *feeds.Report) string {
	var b strings.Builder

	b.WriteString("STRATEGIC ANALYSIS:\n")
	b.WriteString(analysis)
	b.WriteString("\n\nCURRENT CONDITIONS:\n")
	b.WriteString(describeConditions(report))

	fmt.Fprintf(&b, "\nDRIVER CONTEXT:\n- GPS: %.4f, %.4f\n- Location: %s\n- Time: %s\n",
		snap.Latitude, snap.Longitude, orUnknown(snap.Address), orUnknown(snap.LocalTime))

	b.WriteString(`
TASK:
Write the final strategy briefing for the driver. Lead with where to go right now and why, fold in the weather and air quality only where they change the advice, and close with one earnings expectation. Keep it tight and practical.`)

	return b.String()
}

func describeConditions(report *feeds.Report) string {
	if report == nil || report.Empty() {
		return "- No live weather or air quality data available\n"
	}

	var b strings.Builder
	if report.Weather != nil {
		fmt.Fprintf(&b, "- Weather: %.1f°C, %.1f mm precipitation, wind %.1f km/h\n",
			report.Weather.TemperatureC, report.Weather.Precipitation, report.Weather.WindSpeedKmh)
	}
	if report.AirQuality != nil {
		fmt.Fprintf(&b, "- Air quality: AQI %.0f, PM2.5 %.1f\n",
			report.AirQuality.AQI, report.AirQuality.PM25)
	}
	return b.String()
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}
