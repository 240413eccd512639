package diagnosis

import (
	"fmt"
	"strings"
	"time"

	"github.com/jwalitptl/diagnosis-api/internal/model"
)

// criticalSymptoms short-circuit the model call when any appears in the
// reported symptoms.
var criticalSymptoms = []string{
	"chest pain",
	"difficulty breathing",
	"severe bleeding",
	"unconscious",
	"seizure",
	"stroke symptoms",
	"heart attack",
	"severe trauma",
	"poisoning",
}

type emergencyMessage struct {
	title       string
	critical    string
	actionTitle string
	actions     [3]string
	tail        string
}

var emergencyMessages = map[string]emergencyMessage{
	"en": {
		title:       "🚨 EMERGENCY: Refer to emergency medical care immediately",
		critical:    "CRITICAL SYMPTOMS DETECTED:",
		actionTitle: "IMMEDIATE ACTION REQUIRED:",
		actions: [3]string{
			"Call emergency services (911/112)",
			"Do not wait for AI diagnosis",
			"Seek immediate medical attention",
		},
		tail: "This is a medical emergency that requires immediate professional medical care.",
	},
	"hi": {
		title:       "🚨 आपातकाल: तुरंत आपातकालीन चिकित्सा सहायता लें",
		critical:    "गंभीर लक्षण पाए गए:",
		actionTitle: "तत्काल आवश्यक कार्रवाई:",
		actions: [3]string{
			"आपातकालीन सेवा (112/108) पर कॉल करें",
			"एआई निदान का इंतजार न करें",
			"तुरंत चिकित्सकीय सहायता लें",
		},
		tail: "यह एक चिकित्सा आपातकाल है जिसके लिए तुरंत डॉक्टर की आवश्यकता है।",
	},
	"mr": {
		title:       "🚨 आपत्काल: तात्काळ आपत्कालीन वैद्यकीय मदत घ्या",
		critical:    "गंभीर लक्षण आढळले:",
		actionTitle: "तात्काळ आवश्यक कृती:",
		actions: [3]string{
			"आपत्कालीन सेवांना कॉल करा (112/108)",
			"एआय निदानाची प्रतीक्षा करू नका",
			"तात्काळ वैद्यकीय मदत घ्या",
		},
		tail: "हा वैद्यकीय आपत्काल आहे ज्यासाठी तातडीने डॉक्टरांची गरज आहे.",
	},
}

// HasCriticalSymptoms reports whether symptoms mention a critical phrase.
func HasCriticalSymptoms(symptoms string) bool {
	s := strings.ToLower(symptoms)
	for _, phrase := range criticalSymptoms {
		if strings.Contains(s, phrase) {
			return true
		}
	}
	return false
}

// EmergencyResponse builds the canned reply returned instead of a model
// diagnosis. Unknown languages fall back to English.
func EmergencyResponse(symptoms, lang string, now time.Time) *model.DiagnosisResult {
	msg, ok := emergencyMessages[lang]
	if !ok {
		msg = emergencyMessages["en"]
	}

	text := fmt.Sprintf("%s\n\n⚠️ %s\n%s\n\n🚑 %s\n- %s\n- %s\n- %s\n\n%s",
		msg.title,
		msg.critical,
		symptoms,
		msg.actionTitle,
		msg.actions[0], msg.actions[1], msg.actions[2],
		msg.tail,
	)

	return &model.DiagnosisResult{
		Diagnosis:       text,
		Confidence:      100,
		IsEmergency:     true,
		NeedsReferral:   true,
		Timestamp:       now,
		CriticalWarning: true,
	}
}
