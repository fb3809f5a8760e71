package interview

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/husainf4l/rolevatev7/pkg/identity"
)

// DefaultLanguage is the interview language assumed when the job does not
// specify one. No enforcement directive is appended for it.
const DefaultLanguage = "english"

// LanguageArabic is the other language the backend configures today. Any
// unknown language still works: it falls back to the english template and a
// generated directive.
const LanguageArabic = "arabic"

const (
	defaultSystemPrompt = "You are a helpful AI assistant."
	defaultCompanyName  = "the company"
	companyPlaceholder  = "{company_name}"
)

// Caps on the CV summary block. The lists come from an external analysis
// pipeline and can be arbitrarily long; bounding them keeps the prompt from
// growing with the payload.
const (
	maxMatchedSkills  = 8
	maxMissingSkills  = 6
	maxStrengths      = 4
	maxConcerns       = 4
	maxRawAnalysisLen = 600
)

// genericTemplates holds the fallback interviewer prompt per language, each
// taking the company name as its single format argument. Unlisted languages
// use the english template.
var genericTemplates = map[string]string{
	DefaultLanguage: "You are a professional interviewer at %s. \nConduct a thorough and engaging interview to assess the candidate's qualifications, \nskills, and cultural fit for the position. Be professional, direct, and insightful.",
	LanguageArabic:  "أنت مُقابل مهني في %s. \nقم بإجراء مقابلة شاملة وجذابة لتقييم مؤهلات المرشح ومهاراته وملاءمته الثقافية للمنصب. كن محترفاً ومباشراً وثاقب النظر.",
}

// languageDirectives holds the enforcement directive appended when the
// interview runs in a non-default language.
var languageDirectives = map[string]string{
	LanguageArabic: "\n\nIMPORTANT: You must conduct this interview entirely in Arabic. Speak, ask questions, and respond only in Arabic.",
}

// SystemPrompt assembles the system context for one generation turn. Layers,
// in order: the job's own prompt template (or a generic per-language one),
// the language directive for non-default languages, and a bounded CV summary
// block prepended when the application carries analysis data. Every layer is
// optional; with no context at all the assistant still gets a usable prompt.
func SystemPrompt(app *identity.ApplicationContext) string {
	if app == nil || app.Job == nil {
		return defaultSystemPrompt
	}
	job := app.Job

	lang := NormalizeLanguage(job.InterviewLanguage)
	company := defaultCompanyName
	if job.Company != nil && job.Company.Name != "" {
		company = job.Company.Name
	}

	var prompt string
	if strings.TrimSpace(job.InterviewPrompt) != "" {
		prompt = strings.ReplaceAll(job.InterviewPrompt, companyPlaceholder, company)
	} else {
		tmpl, ok := genericTemplates[lang]
		if !ok {
			tmpl = genericTemplates[DefaultLanguage]
		}
		prompt = fmt.Sprintf(tmpl, company)
	}

	if lang != DefaultLanguage {
		prompt += directiveFor(lang)
	}

	if summary := CVSummary(app); summary != "" {
		prompt = "Candidate CV summary:\n" + summary + "\n\n" + prompt
	}
	return prompt
}

// NormalizeLanguage lowercases and trims a configured interview language,
// mapping the empty string to DefaultLanguage.
func NormalizeLanguage(s string) string {
	lang := strings.ToLower(strings.TrimSpace(s))
	if lang == "" {
		return DefaultLanguage
	}
	return lang
}

func directiveFor(lang string) string {
	if d, ok := languageDirectives[lang]; ok {
		return d
	}
	return fmt.Sprintf("\n\nIMPORTANT: You must conduct this interview entirely in %s.", titleCase(lang))
}

// CVSummary renders the bounded CV-match block for the system prompt. It
// returns "" when the application has neither a score nor analysis results.
func CVSummary(app *identity.ApplicationContext) string {
	var parts []string
	if score, ok := app.Score(); ok {
		parts = append(parts, "CV Match Score: "+strconv.FormatFloat(score, 'f', -1, 64)+"/100")
	}

	analysis, raw, ok := app.ParseCVAnalysis()
	switch {
	case analysis != nil:
		if analysis.ExperienceSummary != "" {
			parts = append(parts, "Experience Summary: "+analysis.ExperienceSummary)
		}
		if len(analysis.SkillsMatched) > 0 {
			parts = append(parts, "Matching Skills: "+strings.Join(topN(analysis.SkillsMatched, maxMatchedSkills), ", "))
		}
		if len(analysis.SkillsMissing) > 0 {
			parts = append(parts, "Missing Skills: "+strings.Join(topN(analysis.SkillsMissing, maxMissingSkills), ", "))
		}
		if len(analysis.Strengths) > 0 {
			parts = append(parts, "Key Strengths: "+strings.Join(topN(analysis.Strengths, maxStrengths), "; "))
		}
		if len(analysis.Concerns) > 0 {
			parts = append(parts, "Areas of Concern: "+strings.Join(topN(analysis.Concerns, maxConcerns), "; "))
		}
		if analysis.Recommendation != "" {
			parts = append(parts, "Overall Recommendation: "+titleCase(analysis.Recommendation))
		}
	case ok && raw != "":
		parts = append(parts, "CV Analysis: "+truncateRunes(raw, maxRawAnalysisLen))
	}
	return strings.Join(parts, "\n")
}

func topN(items []string, n int) []string {
	if len(items) > n {
		return items[:n]
	}
	return items
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// titleCase capitalizes each word. Casers are stateful, so one is built per
// call rather than shared.
func titleCase(s string) string {
	return cases.Title(language.English).String(s)
}
