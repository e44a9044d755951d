package domain

// Emergency contact details used when every recovery path is exhausted.
// "No answer" is worse than a generic one in this domain.
const (
	HelplineNumber = "1930"
	PortalURL      = "https://cybercrime.gov.in"
)

// Link is a labelled URL included in a structured answer.
type Link struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// StructuredAnswer is the unit returned to callers and written into the
// response cache.
type StructuredAnswer struct {
	ImmediateActions  []string `json:"immediate_actions"`
	Steps             []string `json:"steps"`
	EvidenceChecklist []string `json:"evidence_checklist"`
	Links             []Link   `json:"links"`
	Sources           []string `json:"sources"`
	Language          string   `json:"language"`
	LatencyMS         int64    `json:"latency_ms"`
}

// SafetyFallbackAnswer returns the deterministic minimal-safety response used
// when model output cannot be parsed into a StructuredAnswer.
func SafetyFallbackAnswer(language string) *StructuredAnswer {
	if language == "" {
		language = "en"
	}
	return &StructuredAnswer{
		ImmediateActions: []string{
			"Call the national cybercrime helpline " + HelplineNumber + " immediately.",
		},
		Steps: []string{
			"Report the incident on the national cybercrime portal.",
			"Keep your phone and bank messages unmodified until the complaint is filed.",
		},
		EvidenceChecklist: []string{
			"Transaction IDs and screenshots",
			"Phone numbers, UPI IDs, or URLs involved",
		},
		Links: []Link{
			{Label: "National Cyber Crime Reporting Portal", URL: PortalURL},
		},
		Language: language,
	}
}
