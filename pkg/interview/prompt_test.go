package interview

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/husainf4l/rolevatev7/pkg/identity"
)

func f64(v float64) *float64 { return &v }

func rawAnalysis(t *testing.T, a identity.CVAnalysis) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(a)
	if err != nil {
		t.Fatalf("marshal analysis: %v", err)
	}
	return b
}

func TestSystemPrompt_NoContext(t *testing.T) {
	if got := SystemPrompt(nil); got != "You are a helpful AI assistant." {
		t.Errorf("SystemPrompt(nil) = %q", got)
	}
	if got := SystemPrompt(&identity.ApplicationContext{}); got != "You are a helpful AI assistant." {
		t.Errorf("SystemPrompt(no job) = %q", got)
	}
}

func TestSystemPrompt_GenericEnglish(t *testing.T) {
	app := &identity.ApplicationContext{Job: &identity.Job{
		Company: &identity.Company{Name: "Acme"},
	}}

	got := SystemPrompt(app)
	if !strings.HasPrefix(got, "You are a professional interviewer at Acme. ") {
		t.Errorf("prompt does not open with the generic template: %q", got)
	}
	if strings.Contains(got, "IMPORTANT:") {
		t.Errorf("default language must not carry an enforcement directive: %q", got)
	}
}

func TestSystemPrompt_GenericCompanyDefault(t *testing.T) {
	app := &identity.ApplicationContext{Job: &identity.Job{Title: "Engineer"}}

	if got := SystemPrompt(app); !strings.Contains(got, "at the company. ") {
		t.Errorf("missing company fallback: %q", got)
	}
}

func TestSystemPrompt_GenericArabic(t *testing.T) {
	app := &identity.ApplicationContext{Job: &identity.Job{
		InterviewLanguage: "Arabic",
		Company:           &identity.Company{Name: "روليفيت"},
	}}

	got := SystemPrompt(app)
	if !strings.Contains(got, "أنت مُقابل مهني في روليفيت. ") {
		t.Errorf("missing arabic template: %q", got)
	}
	if !strings.HasSuffix(got, "Speak, ask questions, and respond only in Arabic.") {
		t.Errorf("missing arabic directive: %q", got)
	}
}

func TestSystemPrompt_CustomTemplate(t *testing.T) {
	app := &identity.ApplicationContext{Job: &identity.Job{
		InterviewPrompt: "Interview candidates for {company_name} with a focus on systems design. Represent {company_name} well.",
		Company:         &identity.Company{Name: "Rolevate"},
	}}

	got := SystemPrompt(app)
	want := "Interview candidates for Rolevate with a focus on systems design. Represent Rolevate well."
	if got != want {
		t.Errorf("SystemPrompt = %q, want %q", got, want)
	}
}

func TestSystemPrompt_CustomTemplateNonDefaultLanguage(t *testing.T) {
	app := &identity.ApplicationContext{Job: &identity.Job{
		InterviewPrompt:   "Ask about leadership at {company_name}.",
		InterviewLanguage: "arabic",
		Company:           &identity.Company{Name: "Acme"},
	}}

	got := SystemPrompt(app)
	if !strings.HasPrefix(got, "Ask about leadership at Acme.") {
		t.Errorf("custom template not used: %q", got)
	}
	if !strings.Contains(got, "entirely in Arabic") {
		t.Errorf("missing directive for non-default language: %q", got)
	}
}

func TestSystemPrompt_UnknownLanguage(t *testing.T) {
	app := &identity.ApplicationContext{Job: &identity.Job{
		InterviewLanguage: "french",
		Company:           &identity.Company{Name: "Acme"},
	}}

	got := SystemPrompt(app)
	if !strings.HasPrefix(got, "You are a professional interviewer at Acme. ") {
		t.Errorf("unlisted language should fall back to the english template: %q", got)
	}
	if !strings.HasSuffix(got, "IMPORTANT: You must conduct this interview entirely in French.") {
		t.Errorf("missing generated directive: %q", got)
	}
}

func TestSystemPrompt_CVSummaryPrefix(t *testing.T) {
	app := &identity.ApplicationContext{
		CVScore: f64(91),
		Job:     &identity.Job{Company: &identity.Company{Name: "Acme"}},
	}

	got := SystemPrompt(app)
	if !strings.HasPrefix(got, "Candidate CV summary:\nCV Match Score: 91/100\n\n") {
		t.Errorf("missing CV summary prefix: %q", got)
	}
	if !strings.Contains(got, "You are a professional interviewer at Acme.") {
		t.Errorf("base prompt missing after summary: %q", got)
	}
}

func TestCVSummary_FullAnalysis(t *testing.T) {
	matched := make([]string, 10)
	for i := range matched {
		matched[i] = fmt.Sprintf("s%d", i+1)
	}
	app := &identity.ApplicationContext{
		CVScore: f64(85),
		CVAnalysisRaw: rawAnalysis(t, identity.CVAnalysis{
			ExperienceSummary: "Five years of backend work",
			SkillsMatched:     matched,
			SkillsMissing:     []string{"m1", "m2", "m3", "m4", "m5", "m6", "m7"},
			Strengths:         []string{"k1", "k2", "k3", "k4", "k5"},
			Concerns:          []string{"c1", "c2", "c3", "c4", "c5"},
			Recommendation:    "strong hire",
		}),
	}

	want := strings.Join([]string{
		"CV Match Score: 85/100",
		"Experience Summary: Five years of backend work",
		"Matching Skills: s1, s2, s3, s4, s5, s6, s7, s8",
		"Missing Skills: m1, m2, m3, m4, m5, m6",
		"Key Strengths: k1; k2; k3; k4",
		"Areas of Concern: c1; c2; c3; c4",
		"Overall Recommendation: Strong Hire",
	}, "\n")
	if got := CVSummary(app); got != want {
		t.Errorf("CVSummary =\n%q\nwant\n%q", got, want)
	}
}

func TestCVSummary_FractionalScore(t *testing.T) {
	app := &identity.ApplicationContext{CVAnalysisScore: f64(72.5)}
	if got := CVSummary(app); got != "CV Match Score: 72.5/100" {
		t.Errorf("CVSummary = %q", got)
	}
}

func TestCVSummary_RawFallback(t *testing.T) {
	app := &identity.ApplicationContext{
		CVAnalysisRaw: json.RawMessage(`"overall a promising profile"`),
	}
	if got := CVSummary(app); got != "CV Analysis: overall a promising profile" {
		t.Errorf("CVSummary = %q", got)
	}
}

func TestCVSummary_RawFallbackTruncated(t *testing.T) {
	long := strings.Repeat("x", 700)
	app := &identity.ApplicationContext{
		CVAnalysisRaw: json.RawMessage(`"` + long + `"`),
	}

	got := CVSummary(app)
	want := "CV Analysis: " + strings.Repeat("x", 600)
	if got != want {
		t.Errorf("CVSummary length = %d, want %d", len(got), len(want))
	}
}

func TestCVSummary_Empty(t *testing.T) {
	if got := CVSummary(&identity.ApplicationContext{}); got != "" {
		t.Errorf("CVSummary = %q, want empty", got)
	}
}

func TestCVSummary_SparseAnalysis(t *testing.T) {
	app := &identity.ApplicationContext{
		CVAnalysisRaw: rawAnalysis(t, identity.CVAnalysis{Recommendation: "hire"}),
	}
	if got := CVSummary(app); got != "Overall Recommendation: Hire" {
		t.Errorf("CVSummary = %q", got)
	}
}

func TestNormalizeLanguage(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"", "english"},
		{"English", "english"},
		{"ARABIC", "arabic"},
		{"  arabic  ", "arabic"},
		{"french", "french"},
	}
	for _, tc := range cases {
		if got := NormalizeLanguage(tc.in); got != tc.want {
			t.Errorf("NormalizeLanguage(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
