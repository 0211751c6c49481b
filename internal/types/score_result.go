package types

// Sub-score bands. Their maxima sum to the 50-point total.
const (
	MaxTotalScore        = 50
	MaxContentScore      = 20
	MaxLanguageScore     = 15
	MaxStructureScore    = 10
	MaxPresentationScore = 5
)

const (
	ProvenanceProvider = "provider"
	ProvenanceFallback = "fallback"
)

// LexicalError is one flagged wrong word/character in the essay text.
type LexicalError struct {
	Wrong      string `json:"wrong"`
	Position   string `json:"position"`
	Suggestion string `json:"suggestion"`
	Context    string `json:"context,omitempty"`
}

type SubScores struct {
	Content      int `json:"content"`
	Language     int `json:"language"`
	Structure    int `json:"structure"`
	Presentation int `json:"presentation"`
}

func (s SubScores) Sum() int {
	return s.Content + s.Language + s.Structure + s.Presentation
}

type Assessment struct {
	Overall      string `json:"overall"`
	Content      string `json:"content"`
	Language     string `json:"language"`
	Structure    string `json:"structure"`
	Presentation string `json:"presentation"`
}

// ScoreResult is the strict schema the interpreter produces from provider
// output. TotalScore is always recomputed from the sub-scores and deductions,
// never copied from the provider.
type ScoreResult struct {
	TotalScore int            `json:"total_score"`
	GradeLabel string         `json:"grade_label,omitempty"`
	SubScores  SubScores      `json:"sub_scores"`
	Errors     []LexicalError `json:"errors"`
	Assessment Assessment     `json:"assessment"`
	Provenance string         `json:"provenance"`
	Deductions int            `json:"deductions"`
}
