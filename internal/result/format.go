package result

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/xiaot623/carechat/internal/domain"
)

// Fixed user-facing messages.
const (
	NoResponseMessage = "No response available from the analysis."
	TimeoutMessage    = "The analysis is taking longer than expected. Please try again and provide more detailed information."
	ProcessingMessage = "⏳ Analyzing your query..."
	OutOfScopeMessage = "This assistant can only help with health-related questions such as symptoms or your patient journey."
)

const bullet = "• "

var severityLabels = map[string]string{
	"low":      "🟢 Mild",
	"mild":     "🟢 Mild",
	"medium":   "🟡 Moderate",
	"moderate": "🟡 Moderate",
	"high":     "🔴 Concerning",
	"severe":   "🔴 Urgent",
}

// journeyMarkers are checked in order; the first substring match wins.
var journeyMarkers = []struct {
	keywords []string
	marker   string
}{
	{[]string{"Diagnosed"}, "🔍"},
	{[]string{"appointment"}, "📅"},
	{[]string{"Test", "test"}, "🧪"},
	{[]string{"treatment"}, "💊"},
	{[]string{"Prescribed"}, "💉"},
}

// FormatResults renders results as a single chat message.
func FormatResults(results []domain.AgentResult) string {
	if len(results) == 0 {
		return NoResponseMessage
	}

	var header string
	for _, r := range results {
		if id, ok := r.Result.PatientID(); ok {
			header = fmt.Sprintf("Patient ID: %s\n\n", id)
			break
		}
	}

	blocks := make([]string, 0, len(results))
	for _, r := range results {
		if block := formatResult(r); block != "" {
			blocks = append(blocks, block)
		}
	}
	return header + strings.Join(blocks, "\n\n")
}

// FormatPlannedActions renders the interim message shown while the backend
// works through its planned actions.
func FormatPlannedActions(actions []domain.PlannedAction) string {
	var b strings.Builder
	b.WriteString("Processing your request...\n\nPlanned actions:")
	for _, a := range actions {
		fmt.Fprintf(&b, "\n- %s: %s", a.Agent, a.Action)
	}
	return b.String()
}

// FormatBackendError renders an error the backend reported in its body.
func FormatBackendError(msg string) string {
	return "❌ " + msg
}

// FormatFailure renders a transport or protocol failure for the user.
func FormatFailure(err error) string {
	if err == nil || err.Error() == "" {
		return "Error: Unknown error occurred"
	}
	return "Error: " + err.Error()
}

func formatResult(r domain.AgentResult) string {
	if msg, ok := r.Result.ErrorMessage(); ok {
		return FormatBackendError(msg)
	}
	switch r.Agent {
	case domain.AgentPatientJourney:
		return formatJourney(r.Result)
	case domain.AgentSymptomAnalyzer:
		return formatSymptoms(r.Result)
	case domain.AgentDiseasePrediction:
		return formatPrediction(r.Result)
	}
	return formatRaw(r.Result)
}

func formatJourney(f domain.ResultFields) string {
	steps := f.JourneySteps()
	if len(steps) == 0 {
		return "ℹ️ No patient journey data available."
	}
	name, ok := f.PatientName()
	if !ok {
		name = "Patient"
	}
	confidence, _ := f.Confidence()

	lines := make([]string, len(steps))
	for i, step := range steps {
		lines[i] = annotateStep(step)
	}
	return fmt.Sprintf("📋 Patient Journey: %s\n\n%s\n\nConfidence: %d%%",
		name, strings.Join(lines, "\n\n"), percent(confidence))
}

func annotateStep(step string) string {
	for _, m := range journeyMarkers {
		for _, kw := range m.keywords {
			if strings.Contains(step, kw) {
				return m.marker + " " + step
			}
		}
	}
	return bullet + step
}

func formatSymptoms(f domain.ResultFields) string {
	list := bulletList(f.IdentifiedSymptoms(), "No symptoms identified")
	return fmt.Sprintf("🔍 What We Found:\n\n%s\n\n⚠️ How concerning is this: %s", list, SeverityLabel(f))
}

// SeverityLabel maps the severity_level field onto the fixed vocabulary.
func SeverityLabel(f domain.ResultFields) string {
	severity, ok := f.SeverityLevel()
	if !ok {
		return "Unknown"
	}
	if label, ok := severityLabels[strings.ToLower(severity)]; ok {
		return label
	}
	return severity
}

func formatPrediction(f domain.ResultFields) string {
	list := bulletList(f.PredictedDiseases(), "No predictions available")
	return fmt.Sprintf("💡 Possible Conditions to Consider:\n%s\n\n📊 How confident: %s", list, ConfidenceLabel(f))
}

// ConfidenceLabel maps the confidence fraction onto a qualitative label.
// A missing confidence counts as zero but is labelled as undetermined.
func ConfidenceLabel(f domain.ResultFields) string {
	c, ok := f.Confidence()
	switch {
	case !ok:
		return "Unable to determine"
	case c >= 0.8:
		return "🟢 Very likely"
	case c >= 0.6:
		return "🟡 Possibly"
	case c >= 0.4:
		return "🔵 Could be"
	}
	return "⚪ Less likely"
}

func formatRaw(f domain.ResultFields) string {
	if f == nil {
		return "No data available"
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", map[string]any(f))
	}
	return string(data)
}

func bulletList(items []string, empty string) string {
	if len(items) == 0 {
		return empty
	}
	lines := make([]string, len(items))
	for i, item := range items {
		lines[i] = bullet + item
	}
	return strings.Join(lines, "\n")
}

func percent(fraction float64) int {
	return int(math.Round(fraction * 100))
}
