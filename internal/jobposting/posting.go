package jobposting

import (
	"fmt"
	"strings"
)

// Posting is a job posting flattened to the text the analysis consumes.
type Posting struct {
	Text        string `json:"text"`
	CompanyName string `json:"companyName"`
	Position    string `json:"position"`
}

// jobResponse accepts both the wrapped {"job": {...}} and the bare shape.
type jobResponse struct {
	Job *jobDetail `json:"job"`
	jobDetail
}

type jobDetail struct {
	Position string `json:"position"`
	Company  *struct {
		Name string `json:"name"`
	} `json:"company"`
	Detail *struct {
		Intro           string `json:"intro"`
		MainTasks       string `json:"main_tasks"`
		Requirements    string `json:"requirements"`
		PreferredPoints string `json:"preferred_points"`
		Benefits        string `json:"benefits"`
	} `json:"detail"`
	SkillTags []struct {
		Title string `json:"title"`
	} `json:"skill_tags"`
}

func (j *jobDetail) posting() *Posting {
	var company string
	if j.Company != nil {
		company = j.Company.Name
	}

	sections := []string{
		"[회사명] " + company,
		"[포지션] " + j.Position,
	}
	if d := j.Detail; d != nil {
		sections = appendSection(sections, "회사/팀 소개", d.Intro)
		sections = appendSection(sections, "주요업무", d.MainTasks)
		sections = appendSection(sections, "자격요건", d.Requirements)
		sections = appendSection(sections, "우대사항", d.PreferredPoints)
		sections = appendSection(sections, "혜택 및 복지", d.Benefits)
	}
	if len(j.SkillTags) > 0 {
		tags := make([]string, 0, len(j.SkillTags))
		for _, t := range j.SkillTags {
			tags = append(tags, t.Title)
		}
		sections = append(sections, "[기술스택] "+strings.Join(tags, ", "))
	}

	return &Posting{
		Text:        strings.Join(sections, "\n\n"),
		CompanyName: company,
		Position:    j.Position,
	}
}

func appendSection(sections []string, title, body string) []string {
	if strings.TrimSpace(body) == "" {
		return sections
	}
	return append(sections, fmt.Sprintf("[%s]\n%s", title, body))
}
