package prompts

import (
	_ "embed"
	"strings"
)

var (
	//go:embed interviewer.md
	interviewerTemplate string
	//go:embed directives.md
	directivesTemplate string
	//go:embed research.md
	researchTemplate string
	//go:embed setup.md
	setupTemplate string
	//go:embed evaluation.md
	evaluationTemplate string
	//go:embed ocr.md
	ocrPrompt string
)

// Render replaces every {{KEY}} placeholder with its value.
func Render(template string, values map[string]string) string {
	pairs := make([]string, 0, len(values)*2)
	for key, value := range values {
		pairs = append(pairs, "{{"+key+"}}", value)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// Interviewer is the system prompt of the interviewer persona. setupJSON is
// the interview setup trimmed to the fields the interviewer needs.
func Interviewer(setupJSON string) string {
	return Render(interviewerTemplate, map[string]string{
		"INTERVIEW_SETUP": setupJSON,
		"END_TOKEN":       "[INTERVIEW_END]",
	})
}

// Directives asks for the research plan derived from the résumé and posting.
func Directives(resume, jobPosting string) string {
	return Render(directivesTemplate, map[string]string{
		"RESUME":      resume,
		"JOB_POSTING": jobPosting,
	})
}

func Research(planJSON string) string {
	return Render(researchTemplate, map[string]string{"RESEARCH_PLAN": planJSON})
}

// Setup asks for the interview setup JSON. research may be empty.
func Setup(resume, jobPosting, research string) string {
	if strings.TrimSpace(research) == "" {
		research = "(없음)"
	}
	return Render(setupTemplate, map[string]string{
		"RESUME":      resume,
		"JOB_POSTING": jobPosting,
		"RESEARCH":    research,
	})
}

func Evaluation(setupJSON, transcript string) string {
	return Render(evaluationTemplate, map[string]string{
		"INTERVIEW_SETUP": setupJSON,
		"TRANSCRIPT":      transcript,
	})
}

// OCR asks for a verbatim transcription of an image.
func OCR() string {
	return ocrPrompt
}
