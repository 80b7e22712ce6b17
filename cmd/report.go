package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spigell/mock-interviewer/internal/interview"
	"gopkg.in/yaml.v3"
)

const (
	FormatJSON = "json"
	FormatYAML = "yaml"
	FormatText = "text"
)

// writeEvaluation renders the report in one of the supported formats.
func writeEvaluation(w io.Writer, evaluation *interview.Evaluation, format string) error {
	switch strings.ToLower(format) {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(evaluation)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(evaluation); err != nil {
			return err
		}
		return enc.Close()
	case FormatText, "":
		return writeEvaluationText(w, evaluation)
	default:
		return fmt.Errorf("unsupported format %q (use %s, %s or %s)", format, FormatText, FormatJSON, FormatYAML)
	}
}

func writeEvaluationText(w io.Writer, evaluation *interview.Evaluation) error {
	var b strings.Builder
	overall := evaluation.Overall

	fmt.Fprintf(&b, "등급: %s\n", overall.Grade)
	if overall.HireRecommendation != "" {
		fmt.Fprintf(&b, "채용 추천: %s\n", overall.HireRecommendation)
	}
	if overall.Summary != "" {
		fmt.Fprintf(&b, "\n%s\n", overall.Summary)
	}
	writeList(&b, "강점", overall.KeyStrengths)
	writeList(&b, "개선점", overall.KeyImprovements)

	if len(evaluation.ActionItems) > 0 {
		b.WriteString("\n실천 항목\n")
		for _, item := range evaluation.ActionItems {
			fmt.Fprintf(&b, "  - %s\n", item.Action)
		}
	}
	if evaluation.NextPreparationGuide != "" {
		fmt.Fprintf(&b, "\n다음 준비 가이드\n%s\n", evaluation.NextPreparationGuide)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s\n", title)
	for _, item := range items {
		fmt.Fprintf(b, "  - %s\n", item)
	}
}
