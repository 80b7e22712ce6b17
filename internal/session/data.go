package session

import (
	"github.com/spigell/mock-interviewer/internal/interview"
	"github.com/spigell/mock-interviewer/internal/storage"
)

func (c *Context) SetResume(text, fileName string) {
	c.mu.Lock()
	c.state.ResumeText = text
	c.state.ResumeFileName = fileName
	c.persist(storage.KeyResumeText)
	c.mu.Unlock()

	c.subs.notify(c.Snapshot)
}

func (c *Context) SetJobPosting(text, companyName, position string) {
	c.mu.Lock()
	c.state.JobText = text
	c.state.CompanyName = companyName
	c.state.Position = position
	c.mu.Unlock()

	c.subs.notify(c.Snapshot)
}

func (c *Context) SetSetup(setup *interview.Setup) {
	c.mu.Lock()
	c.state.Setup = setup
	c.persist(storage.KeySetup)
	c.mu.Unlock()

	c.subs.notify(c.Snapshot)
}

func (c *Context) SetGrounding(report *interview.GroundingReport) {
	c.mu.Lock()
	c.state.Grounding = report
	c.persist(storage.KeyGroundingReport)
	c.mu.Unlock()

	c.subs.notify(c.Snapshot)
}

func (c *Context) SetEvaluation(evaluation *interview.Evaluation) {
	c.mu.Lock()
	c.state.Evaluation = evaluation
	c.persist(storage.KeyEvaluation)
	c.mu.Unlock()

	c.subs.notify(c.Snapshot)
}

func (c *Context) AddAnalysisMetrics(metrics ...interview.StageMetrics) {
	c.mu.Lock()
	c.state.AnalysisMetrics = append(c.state.AnalysisMetrics, metrics...)
	c.persist(storage.KeyAnalysisMetrics)
	c.mu.Unlock()
}

func (c *Context) AddChatMetrics(metrics interview.ChatMetrics) {
	c.mu.Lock()
	c.state.ChatMetrics = append(c.state.ChatMetrics, metrics)
	c.persist(storage.KeyChatMetrics)
	c.mu.Unlock()
}

func (c *Context) AddEvaluationMetrics(metrics ...interview.StageMetrics) {
	c.mu.Lock()
	c.state.EvaluationMetrics = append(c.state.EvaluationMetrics, metrics...)
	c.persist(storage.KeyEvaluationMetrics)
	c.mu.Unlock()
}
