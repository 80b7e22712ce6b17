package interview

type GroundingStatus string

const (
	GroundingSuccess GroundingStatus = "success"
	GroundingSkipped GroundingStatus = "skipped"
	GroundingError   GroundingStatus = "error"
)

// ResearchDirective is one web research task planned by the first analysis stage.
type ResearchDirective struct {
	ID               string `json:"id"`
	Priority         int    `json:"priority"`
	Category         string `json:"category"`
	Query            string `json:"query"`
	Context          string `json:"context"`
	FallbackStrategy string `json:"fallback_strategy"`
}

type ResearchPlan struct {
	CandidateSummary string              `json:"candidate_summary"`
	PositionSummary  string              `json:"position_summary"`
	IdentifiedGaps   []string            `json:"identified_gaps"`
	Directives       []ResearchDirective `json:"directives"`
}

type GroundingSource struct {
	Title  string `json:"title"`
	URI    string `json:"uri"`
	Domain string `json:"domain"`
}

type GroundingEvidence struct {
	Text          string `json:"text"`
	SourceIndices []int  `json:"sourceIndices"`
}

// GroundingReport is the outcome of the web research stage.
type GroundingReport struct {
	Status        GroundingStatus     `json:"status"`
	SearchQueries []string            `json:"searchQueries"`
	Sources       []GroundingSource   `json:"sources"`
	Evidences     []GroundingEvidence `json:"evidences"`
	ResearchText  string              `json:"researchText"`
	DurationMs    int64               `json:"durationMs"`
	ErrorMessage  string              `json:"errorMessage,omitempty"`
	Timestamp     string              `json:"timestamp"`
}
