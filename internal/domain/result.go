package domain

// AgentResult is one agent's output inside an orchestration response.
type AgentResult struct {
	Agent  AgentName    `json:"agent"`
	Result ResultFields `json:"result"`
}

// ResultFields holds the agent-specific result document. Accessors treat a
// missing key and a value of the wrong JSON type the same way: as absent.
type ResultFields map[string]any

// Result keys produced by the backend agents.
const (
	FieldIdentifiedSymptoms = "identified_symptoms"
	FieldSeverityLevel      = "severity_level"
	FieldPredictedDiseases  = "predicted_diseases"
	FieldConfidence         = "confidence"
	FieldJourneySteps       = "journey_steps"
	FieldPatientName        = "patient_name"
	FieldPatientID          = "patient_id"
	FieldError              = "error"
)

func (f ResultFields) IdentifiedSymptoms() []string { return f.strings(FieldIdentifiedSymptoms) }
func (f ResultFields) PredictedDiseases() []string { return f.strings(FieldPredictedDiseases) }
func (f ResultFields) JourneySteps() []string { return f.strings(FieldJourneySteps) }

func (f ResultFields) SeverityLevel() (string, bool) { return f.nonEmpty(FieldSeverityLevel) }
func (f ResultFields) PatientName() (string, bool) { return f.nonEmpty(FieldPatientName) }
func (f ResultFields) PatientID() (string, bool) { return f.nonEmpty(FieldPatientID) }
func (f ResultFields) ErrorMessage() (string, bool) { return f.nonEmpty(FieldError) }

// Confidence returns the confidence fraction when it is a JSON number.
func (f ResultFields) Confidence() (float64, bool) {
	switch v := f[FieldConfidence].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	}
	return 0, false
}

func (f ResultFields) nonEmpty(key string) (string, bool) {
	s, ok := f[key].(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

func (f ResultFields) strings(key string) []string {
	switch v := f[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
