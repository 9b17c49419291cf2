package domain

// ProgressRecord is one mastery data point for a learner.
type ProgressRecord struct {
	Module  string `json:"module"`
	Topic   string `json:"topic"`
	Mastery int    `json:"mastery"`
}

// Band groups mastery the way the dashboard colours it.
type Band string

const (
	BandStrong     Band = "strong"
	BandDeveloping Band = "developing"
	BandWeak       Band = "weak"
)

// Band returns the colour band for this record.
func (p ProgressRecord) Band() Band {
	switch {
	case p.Mastery > 60:
		return BandStrong
	case p.Mastery > 30:
		return BandDeveloping
	default:
		return BandWeak
	}
}

// Provenance says where a progress snapshot came from.
type Provenance string

const (
	ProvenanceLive     Provenance = "live"
	ProvenanceFallback Provenance = "fallback"
)

// ProgressSnapshot is the result of one progress fetch.
type ProgressSnapshot struct {
	LearnerID string           `json:"learner_id"`
	Records   []ProgressRecord `json:"progress"`
	Source    Provenance       `json:"source"`
}
