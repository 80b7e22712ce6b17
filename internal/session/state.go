package session

import (
	"slices"

	"github.com/spigell/mock-interviewer/internal/interview"
)

// AudioTap exposes the amplitude of the audio currently played to the candidate.
// The avatar presentation reads it to drive lip-sync.
type AudioTap interface {
	Level() float64
}

// State is a point-in-time copy of the session context.
type State struct {
	ResumeText     string
	ResumeFileName string
	JobText        string
	CompanyName    string
	Position       string

	Setup      *interview.Setup
	Grounding  *interview.GroundingReport
	Evaluation *interview.Evaluation

	AnalysisMetrics   []interview.StageMetrics
	ChatMetrics       []interview.ChatMetrics
	EvaluationMetrics []interview.StageMetrics

	Transcript      []interview.Entry
	Avatar          interview.AvatarState
	ElapsedSeconds  int
	InterviewActive bool
	Audio           AudioTap
}

func (s State) clone() State {
	s.Transcript = slices.Clone(s.Transcript)
	s.AnalysisMetrics = slices.Clone(s.AnalysisMetrics)
	s.ChatMetrics = slices.Clone(s.ChatMetrics)
	s.EvaluationMetrics = slices.Clone(s.EvaluationMetrics)
	return s
}

func initialState() State {
	return State{Avatar: interview.AvatarIdle}
}
