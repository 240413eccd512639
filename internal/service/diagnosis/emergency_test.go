package diagnosis

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasCriticalSymptoms(t *testing.T) {
	assert.True(t, HasCriticalSymptoms("Sudden CHEST PAIN radiating to arm"))
	assert.True(t, HasCriticalSymptoms("possible poisoning after eating mushrooms"))
	assert.True(t, HasCriticalSymptoms("had a seizure this morning"))
	assert.False(t, HasCriticalSymptoms("mild headache and runny nose"))
	assert.False(t, HasCriticalSymptoms(""))
}

// alternatingCase turns "chest pain" into "ChEsT PaIn".
func alternatingCase(s string) string {
	var sb strings.Builder
	for i, r := range s {
		if i%2 == 0 {
			sb.WriteString(strings.ToUpper(string(r)))
		} else {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func TestHasCriticalSymptoms_EveryPhraseAnyCase(t *testing.T) {
	require.Len(t, criticalSymptoms, 9)
	for _, phrase := range criticalSymptoms {
		for _, variant := range []string{phrase, strings.ToUpper(phrase), alternatingCase(phrase)} {
			t.Run(variant, func(t *testing.T) {
				assert.True(t, HasCriticalSymptoms("patient reports "+variant+" since morning"))
			})
		}
	}
}

func TestEmergencyResponse(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	r := EmergencyResponse("chest pain", "en", now)

	assert.Equal(t, 100, r.Confidence)
	assert.True(t, r.IsEmergency)
	assert.True(t, r.NeedsReferral)
	assert.True(t, r.CriticalWarning)
	assert.Equal(t, now, r.Timestamp)

	want := "🚨 EMERGENCY: Refer to emergency medical care immediately\n\n" +
		"⚠️ CRITICAL SYMPTOMS DETECTED:\nchest pain\n\n" +
		"🚑 IMMEDIATE ACTION REQUIRED:\n" +
		"- Call emergency services (911/112)\n" +
		"- Do not wait for AI diagnosis\n" +
		"- Seek immediate medical attention\n\n" +
		"This is a medical emergency that requires immediate professional medical care."
	assert.Equal(t, want, r.Diagnosis)
}

func TestEmergencyResponse_Localized(t *testing.T) {
	tests := []struct {
		lang  string
		title string
	}{
		{"hi", "🚨 आपातकाल: तुरंत आपातकालीन चिकित्सा सहायता लें"},
		{"mr", "🚨 आपत्काल: तात्काळ आपत्कालीन वैद्यकीय मदत घ्या"},
		{"fr", "🚨 EMERGENCY: Refer to emergency medical care immediately"},
	}

	for _, tt := range tests {
		t.Run(tt.lang, func(t *testing.T) {
			r := EmergencyResponse("seizure", tt.lang, time.Now())
			assert.True(t, strings.HasPrefix(r.Diagnosis, tt.title))
			assert.Contains(t, r.Diagnosis, "\nseizure\n")
		})
	}
}

func TestEmergencyResponse_ParsesAsEmergency(t *testing.T) {
	for lang := range emergencyMessages {
		r := EmergencyResponse("stroke symptoms", lang, time.Now())
		assert.True(t, ParseReply(r.Diagnosis, time.Now()).IsEmergency, lang)
	}
}
