package diagnosis

import (
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/jwalitptl/diagnosis-api/internal/model"
)

var languageNames = map[string]string{
	"en": "English",
	"hi": "Hindi",
	"mr": "Marathi",
}

// LanguageName maps a language code to the name used in the prompt.
func LanguageName(lang string) string {
	if name, ok := languageNames[lang]; ok {
		return name
	}
	return "English"
}

var promptTemplate = template.Must(template.New("prompt").Parse(`You are a medical AI assistant. Analyze the following patient information and provide a safe, evidence-based medical assessment.

Respond entirely in {{.Language}}. Use medically appropriate terminology for {{.Language}}. If any headings or table labels are used, translate them to {{.Language}} as well.

PATIENT INFORMATION:
- Name: {{.FullName}}
- Age: {{.Age}} years
- Sex: {{.Sex}}
- Weight: {{.Weight}} kg
- Allergies: {{or .Allergies "None reported"}}
- Symptoms: {{.Symptoms}}

IMPORTANT SAFETY RULES:
1. NEVER make final prescriptions for critical or life-threatening cases
2. ALWAYS flag dangerous symptoms that require immediate medical attention
3. Only recommend medications backed by WHO/FDA guidelines
4. Include confidence levels for all assessments
5. Emphasize this is for informational purposes only

Please provide a response in this exact format (and translate all headings and column names to {{.Language}}).

When suggesting medications, follow these extra rules:
• If multiple clinically appropriate formulations exist (e.g., tablet/syrup, cream/ointment/gel, eye/ear/nasal drops, inhaler), provide 2–4 best options as separate rows in the medications table.
• Tailor route and dose by age/weight and the reported symptoms.
• Prefer generic names; include brand name in parentheses only if commonly used.
• If topical forms (creams/ointments) or drops are relevant, list them explicitly with correct route (e.g., topical, ocular, otic, nasal) and frequency.

Provide the response in the following structure:

📄 Prescription Summary

👤 Patient Information:  
Name: {{.FullName}}  
Age: {{.Age}}  
Sex: {{.Sex}}  
Weight: {{.Weight}} kg  
Allergies: {{or .Allergies "None"}}

🩺 Symptoms Reported:  
{{.Symptoms}}

🧠 Diagnosis:  
[Your diagnosis here]

# MACHINE-READABLE: On a separate line include exactly:
CONFIDENCE_PERCENT=[percentage without % sign]

💊 Medications:  
| Medication     | Dose       | Route       | Frequency                  | Duration / Max Dose  |  
|----------------|------------|-------------|----------------------------|---------------------|  
| [Medication]   | [Dose]     | [Route]     | [Frequency]                | [Duration/Max Dose] |

⚠️ Warnings and Precautions:  
- [Red flag symptom 1]  
- [Red flag symptom 2]  
- [Red flag symptom 3]  
- [Red flag symptom 4]  
- [Red flag symptom 5]  

📅 Date: {{.Date}}

---

⚠️ Disclaimer:  
This prescription summary is for informational purposes only and does not replace professional medical advice. Please consult a qualified healthcare provider for diagnosis and treatment.

CRITICAL: If you detect any life-threatening symptoms, immediately add "🚨 EMERGENCY: Refer to emergency medical care immediately" at the top.`))

type promptData struct {
	Language  string
	FullName  string
	Age       int
	Sex       string
	Weight    string
	Allergies string
	Symptoms  string
	Date      string
}

// BuildPrompt renders the instruction prompt for in, dated now.
func BuildPrompt(in *model.PatientInput, now time.Time) (string, error) {
	data := promptData{
		Language: LanguageName(in.Lang),
		FullName: in.FullName,
		Age:      in.Age,
		Sex:      in.Sex,
		Weight:   strconv.FormatFloat(in.Weight, 'f', -1, 64),
		Symptoms: in.Symptoms,
		Date:     now.UTC().Format("2006-01-02"),
	}
	if in.Allergies != nil {
		data.Allergies = *in.Allergies
	}

	var sb strings.Builder
	if err := promptTemplate.Execute(&sb, data); err != nil {
		return "", err
	}
	return sb.String(), nil
}
