// Package result classifies and renders agent results returned by the
// orchestration backend.
package result

import "github.com/xiaot623/carechat/internal/domain"

// IsComplete reports whether results answer a symptom_analysis request.
// A patient journey stands on its own; a symptom analysis needs both the
// identified symptoms and a disease prediction.
func IsComplete(results []domain.AgentResult) bool {
	var hasJourney, hasSymptoms, hasPrediction bool
	for _, r := range results {
		switch r.Agent {
		case domain.AgentPatientJourney:
			hasJourney = hasJourney || len(r.Result.JourneySteps()) > 0
		case domain.AgentSymptomAnalyzer:
			hasSymptoms = hasSymptoms || len(r.Result.IdentifiedSymptoms()) > 0
		case domain.AgentDiseasePrediction:
			hasPrediction = hasPrediction || len(r.Result.PredictedDiseases()) > 0
		}
	}
	return hasJourney || (hasSymptoms && hasPrediction)
}
