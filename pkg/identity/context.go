package identity

import "encoding/json"

// ApplicationContext is the structured context the backend of record holds
// for an application: candidate details, the job being interviewed for, and
// CV analysis results. Every field is optional; consumers must tolerate any
// of them being absent.
type ApplicationContext struct {
	ID              string          `json:"id"`
	ApplicantName   string          `json:"applicantName"`
	ApplicantEmail  string          `json:"applicantEmail"`
	CVScore         *float64        `json:"cvScore"`
	CVAnalysisScore *float64        `json:"cvAnalysisScore"`
	CVAnalysisRaw   json.RawMessage `json:"cvAnalysisResults"`
	Candidate       *Candidate      `json:"candidate"`
	Job             *Job            `json:"job"`
}

// Candidate is the person being interviewed.
type Candidate struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// Job describes the position the application targets.
type Job struct {
	ID                string   `json:"id"`
	Title             string   `json:"title"`
	Description       string   `json:"description"`
	Skills            []string `json:"skills"`
	Experience        string   `json:"experience"`
	Education         string   `json:"education"`
	InterviewPrompt   string   `json:"interviewPrompt"`
	InterviewLanguage string   `json:"interviewLanguage"`
	Company           *Company `json:"company"`
}

// Company is the hiring organization.
type Company struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// CVAnalysis is the structured form of the CV analysis blob.
type CVAnalysis struct {
	ExperienceSummary string   `json:"experience_summary"`
	SkillsMatched     []string `json:"skills_matched"`
	SkillsMissing     []string `json:"skills_missing"`
	Strengths         []string `json:"strengths"`
	Concerns          []string `json:"concerns"`
	Recommendation    string   `json:"recommendation"`
}

// Score returns the best available CV match score, or ok=false when the
// application carries none.
func (a *ApplicationContext) Score() (float64, bool) {
	if a == nil {
		return 0, false
	}
	if a.CVScore != nil {
		return *a.CVScore, true
	}
	if a.CVAnalysisScore != nil {
		return *a.CVAnalysisScore, true
	}
	return 0, false
}

// ParseCVAnalysis decodes the analysis blob. When the blob is not the
// expected object shape, its text is returned instead so callers can still
// surface something (ok=false means there is nothing at all).
func (a *ApplicationContext) ParseCVAnalysis() (analysis *CVAnalysis, fallback string, ok bool) {
	if a == nil || len(a.CVAnalysisRaw) == 0 {
		return nil, "", false
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(a.CVAnalysisRaw, &obj); err == nil {
		var parsed CVAnalysis
		if err := json.Unmarshal(a.CVAnalysisRaw, &parsed); err == nil {
			return &parsed, "", true
		}
		return nil, string(a.CVAnalysisRaw), true
	}
	var s string
	if err := json.Unmarshal(a.CVAnalysisRaw, &s); err == nil {
		return nil, s, true
	}
	return nil, string(a.CVAnalysisRaw), true
}
