package diagnosis

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jwalitptl/diagnosis-api/internal/model"
)

const emergencyHeadRunes = 200

var (
	confidenceMarker = regexp.MustCompile(`(?i)CONFIDENCE_PERCENT\s*=\s*(\d{1,3})`)
	confidenceLoose  = regexp.MustCompile(`(?i)(Confidence|Confidence\s*Level|आत्मविश्वास|विश्वास|विश्वास\s*पातळी)[^\d]{0,15}(\d{1,3})%`)

	emergencyPrefix = regexp.MustCompile(`^\s*🚨`)
	// The trailing \b only matches when a word character follows the colon,
	// so headers like "Emergency: No" are not flagged.
	emergencyLabel = regexp.MustCompile(`\bemergency:\b`)

	referralKeywords = []string{"refer to provider", "consult doctor", "medical attention"}
)

// ParseReply extracts the structured flags from a model reply.
func ParseReply(text string, now time.Time) *model.DiagnosisResult {
	return &model.DiagnosisResult{
		Diagnosis:     text,
		Confidence:    parseConfidence(text),
		IsEmergency:   isEmergency(text),
		NeedsReferral: needsReferral(text),
		Timestamp:     now,
	}
}

func parseConfidence(text string) int {
	var digits string
	if m := confidenceMarker.FindStringSubmatch(text); m != nil {
		digits = m[1]
	} else if m := confidenceLoose.FindStringSubmatch(text); m != nil {
		digits = m[2]
	}
	if digits == "" {
		return 0
	}

	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}

// isEmergency only looks at the start of the reply, where the prompt asks
// for the emergency banner.
func isEmergency(text string) bool {
	if emergencyPrefix.MatchString(text) {
		return true
	}
	head := strings.ToLower(headRunes(text, emergencyHeadRunes))
	return emergencyLabel.MatchString(head) || strings.Contains(head, "refer to emergency medical care")
}

func needsReferral(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range referralKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func headRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
