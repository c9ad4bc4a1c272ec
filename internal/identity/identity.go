// Package identity resolves the user a chat session speaks for.
package identity

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/xiaot623/carechat/internal/domain"
)

var patientIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Resolve returns userID, or the anonymous sentinel when it is blank.
func Resolve(userID string) string {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.AnonymousUser
	}
	return userID
}

// IsAnonymous reports whether userID identifies nobody.
func IsAnonymous(userID string) bool {
	return Resolve(userID) == domain.AnonymousUser
}

// LooksLikePatientID reports whether free text reads as an identifier such as
// "pat1" or "patient_001" rather than a question. It needs at least four
// characters from [A-Za-z0-9_-], one of which is a digit, underscore or hyphen.
func LooksLikePatientID(s string) bool {
	if len(s) < 4 || strings.IndexFunc(s, unicode.IsSpace) >= 0 {
		return false
	}
	if !strings.ContainsAny(s, "0123456789_-") {
		return false
	}
	return patientIDPattern.MatchString(s)
}

// BoundMessage confirms a patient ID and lists what the user can ask next.
func BoundMessage(patientID string) string {
	return fmt.Sprintf(`✅ Patient ID set to: %s

📚 Now you can ask about:
• Medical History - "Show my medical history"
• Symptoms - "I have a headache and fever"
• Treatment Info - "What's my current treatment?"
• Appointments - "When is my next appointment?"
• Test Results - "Show my recent test results"

Just type your question below!`, patientID)
}
