package interview

// Evaluation is the structured report produced after the interview ends.
type Evaluation struct {
	Overall              OverallEvaluation    `json:"overall_evaluation" yaml:"overall_evaluation"`
	QuestionEvaluations  []QuestionEvaluation `json:"question_evaluations" yaml:"question_evaluations"`
	SkillRadar           SkillRadar           `json:"skill_radar" yaml:"skill_radar"`
	ActionItems          []ActionItem         `json:"action_items" yaml:"action_items"`
	NextPreparationGuide string               `json:"next_preparation_guide" yaml:"next_preparation_guide"`
}

type OverallEvaluation struct {
	Grade              string       `json:"overall_grade" yaml:"overall_grade"`
	Summary            string       `json:"summary" yaml:"summary"`
	HireRecommendation string       `json:"hire_recommendation" yaml:"hire_recommendation"`
	KeyStrengths       []string     `json:"key_strengths" yaml:"key_strengths"`
	KeyImprovements    []string     `json:"key_improvements" yaml:"key_improvements"`
	StrengthsFeedback  []string     `json:"strengths_feedback" yaml:"strengths_feedback"`
	SeniorityFit       SeniorityFit `json:"seniority_fit" yaml:"seniority_fit"`
	JobReadiness       JobReadiness `json:"job_readiness" yaml:"job_readiness"`
	Consistency        Consistency  `json:"consistency_assessment" yaml:"consistency_assessment"`
}

type SeniorityFit struct {
	ClaimedLevel  string `json:"claimed_level" yaml:"claimed_level"`
	AssessedLevel string `json:"assessed_level" yaml:"assessed_level"`
	Evidence      string `json:"evidence" yaml:"evidence"`
}

type JobReadiness struct {
	Level  string `json:"readiness_level" yaml:"readiness_level"`
	Reason string `json:"reason" yaml:"reason"`
}

type Consistency struct {
	AnswerConsistency string `json:"answer_consistency" yaml:"answer_consistency"`
	Details           string `json:"details" yaml:"details"`
}

type ScoreDetail struct {
	Score   string `json:"score" yaml:"score"`
	Comment string `json:"comment" yaml:"comment"`
}

type QuestionScores struct {
	TechnicalAccuracy ScoreDetail `json:"technical_accuracy" yaml:"technical_accuracy"`
	LogicalStructure  ScoreDetail `json:"logical_structure" yaml:"logical_structure"`
	Specificity       ScoreDetail `json:"specificity" yaml:"specificity"`
}

type QuestionEvaluation struct {
	QuestionID              int            `json:"question_id" yaml:"question_id"`
	QuestionText            string         `json:"question_text" yaml:"question_text"`
	AnswerSummary           string         `json:"candidate_answer_summary" yaml:"candidate_answer_summary"`
	Grade                   string         `json:"grade" yaml:"grade"`
	Scores                  QuestionScores `json:"scores" yaml:"scores"`
	Feedback                string         `json:"feedback" yaml:"feedback"`
	ModelAnswer             string         `json:"model_answer" yaml:"model_answer"`
	AnswerStructureFeedback *string        `json:"answer_structure_feedback,omitempty" yaml:"answer_structure_feedback,omitempty"`
	FollowUpPerformance     *string        `json:"follow_up_performance,omitempty" yaml:"follow_up_performance,omitempty"`
	RedFlag                 *string        `json:"red_flag,omitempty" yaml:"red_flag,omitempty"`
}

type SkillRadar struct {
	TechnicalKnowledge string `json:"technical_knowledge" yaml:"technical_knowledge"`
	ProblemSolving     string `json:"problem_solving" yaml:"problem_solving"`
	Communication      string `json:"communication" yaml:"communication"`
	ExperienceDepth    string `json:"experience_depth" yaml:"experience_depth"`
	CultureFit         string `json:"culture_fit" yaml:"culture_fit"`
}

type ActionItem struct {
	Priority string `json:"priority" yaml:"priority"`
	Area     string `json:"area" yaml:"area"`
	Action   string `json:"action" yaml:"action"`
	Example  string `json:"example" yaml:"example"`
}
