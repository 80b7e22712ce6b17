package interview

import "strings"

// MinTextLength is the shortest résumé or job posting worth analysing, in characters.
const MinTextLength = 50

// Setup is the interview plan produced by the analysis pipeline.
type Setup struct {
	CompanyAnalysis   CompanyAnalysis   `json:"company_analysis"`
	CandidateAnalysis CandidateAnalysis `json:"candidate_analysis"`
	GapAnalysis       GapAnalysis       `json:"gap_analysis"`
	Strategy          Strategy          `json:"interview_strategy"`
	Interviewers      []Interviewer     `json:"interviewers"`
	Questions         []Question        `json:"questions"`
}

type CompanyAnalysis struct {
	CompanyName    string `json:"company_name"`
	Industry       string `json:"industry"`
	CompanySize    string `json:"company_size"`
	Position       string `json:"position"`
	SeniorityLevel string `json:"seniority_level"`
}

type CandidateAnalysis struct {
	Strengths               []string `json:"strengths"`
	Weaknesses              []string `json:"weaknesses,omitempty"`
	KeyExperiences          []string `json:"key_experiences"`
	ExperienceDepthEstimate string   `json:"experience_depth_estimate,omitempty"`
}

type GapAnalysis struct {
	MissingSkills    []MissingSkill    `json:"missing_skills"`
	CredibilityFlags []CredibilityFlag `json:"credibility_flags"`
}

type MissingSkill struct {
	Skill            string `json:"skill"`
	Importance       string `json:"importance"`
	EvidenceInResume string `json:"evidence_in_resume"`
}

type CredibilityFlag struct {
	Claim                string `json:"claim"`
	WhySuspicious        string `json:"why_suspicious"`
	VerificationApproach string `json:"verification_approach"`
}

type Strategy struct {
	OpeningApproach        string   `json:"opening_approach"`
	CoreVerificationPoints []string `json:"core_verification_points"`
	DifficultyEscalation   string   `json:"difficulty_escalation"`
}

type Interviewer struct {
	Name           string `json:"name"`
	Role           string `json:"role"`
	Personality    string `json:"personality"`
	FocusArea      string `json:"focus_area"`
	SpeechPattern  string `json:"speech_pattern"`
	HiringPressure string `json:"hiring_pressure"`
}

type FollowUpGuide struct {
	Trigger      string `json:"trigger"`
	Question     string `json:"question"`
	WhatToVerify string `json:"what_to_verify"`
}

type Criteria struct {
	TechnicalAccuracy string `json:"technical_accuracy"`
	LogicalStructure  string `json:"logical_structure"`
	Specificity       string `json:"specificity"`
}

type Question struct {
	ID                      int             `json:"id"`
	Category                string          `json:"category"`
	Question                string          `json:"question"`
	Intent                  string          `json:"intent"`
	ExpectedAnswerDirection string          `json:"expected_answer_direction,omitempty"`
	FollowUpGuides          []FollowUpGuide `json:"follow_up_guides"`
	EvaluationCriteria      *Criteria       `json:"evaluation_criteria,omitempty"`
	Difficulty              string          `json:"difficulty"`
	RealScenario            string          `json:"real_scenario"`
	DepthProbePoint         *string         `json:"depth_probe_point,omitempty"`
	ConcernSignal           string          `json:"concern_signal"`
}

// InterviewerName returns the first interviewer's name, or "" when there is none.
func (s *Setup) InterviewerName() string {
	if s == nil || len(s.Interviewers) == 0 {
		return ""
	}
	return strings.TrimSpace(s.Interviewers[0].Name)
}

// ForInterview returns the subset of the setup the interviewer model needs.
// Weaknesses, gap analysis, expected answers and grading criteria are dropped.
func (s *Setup) ForInterview() *Setup {
	if s == nil {
		return nil
	}

	filtered := &Setup{
		CompanyAnalysis: s.CompanyAnalysis,
		CandidateAnalysis: CandidateAnalysis{
			Strengths:      s.CandidateAnalysis.Strengths,
			KeyExperiences: s.CandidateAnalysis.KeyExperiences,
		},
		Strategy:     s.Strategy,
		Interviewers: s.Interviewers,
	}

	filtered.Questions = make([]Question, 0, len(s.Questions))
	for _, q := range s.Questions {
		filtered.Questions = append(filtered.Questions, Question{
			ID:              q.ID,
			Category:        q.Category,
			Question:        q.Question,
			Intent:          q.Intent,
			FollowUpGuides:  q.FollowUpGuides,
			Difficulty:      q.Difficulty,
			RealScenario:    q.RealScenario,
			DepthProbePoint: q.DepthProbePoint,
			ConcernSignal:   q.ConcernSignal,
		})
	}

	return filtered
}
