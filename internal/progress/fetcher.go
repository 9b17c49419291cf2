// Package progress fetches a learner's mastery records from the tutoring agent.
package progress

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/ashureev/learnflow/internal/domain"
	"github.com/ashureev/learnflow/internal/transport"
)

// DefaultLearnerID is used when no learner is named.
const DefaultLearnerID = "1"

// fallbackRecords keep the dashboard populated while the agent is down.
var fallbackRecords = []domain.ProgressRecord{
	{Module: "basics", Topic: "variables", Mastery: 75},
	{Module: "basics", Topic: "data_types", Mastery: 60},
	{Module: "loops", Topic: "for_loop", Mastery: 40},
	{Module: "loops", Topic: "while_loop", Mastery: 20},
	{Module: "data_structures", Topic: "lists", Mastery: 50},
	{Module: "functions", Topic: "functions", Mastery: 10},
}

// FallbackRecords returns a fresh copy of the illustrative dataset.
func FallbackRecords() []domain.ProgressRecord {
	out := make([]domain.ProgressRecord, len(fallbackRecords))
	copy(out, fallbackRecords)
	return out
}

// Sender performs one upstream call.
type Sender interface {
	Send(ctx context.Context, method, path string, body any) transport.Result
}

type payload struct {
	Progress []domain.ProgressRecord `json:"progress"`
}

// Fetcher reads progress records. It caches nothing between calls.
type Fetcher struct {
	sender         Sender
	defaultLearner string
	logger         *slog.Logger
}

// NewFetcher creates a fetcher. An empty defaultLearner means DefaultLearnerID.
func NewFetcher(sender Sender, defaultLearner string, logger *slog.Logger) *Fetcher {
	if strings.TrimSpace(defaultLearner) == "" {
		defaultLearner = DefaultLearnerID
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{sender: sender, defaultLearner: defaultLearner, logger: logger}
}

// Fetch returns the learner's records. When the agent is unreachable the
// snapshot holds FallbackRecords and is tagged ProvenanceFallback.
func (f *Fetcher) Fetch(ctx context.Context, learnerID string) domain.ProgressSnapshot {
	learnerID = strings.TrimSpace(learnerID)
	if learnerID == "" {
		learnerID = f.defaultLearner
	}

	res := f.sender.Send(ctx, http.MethodGet, "/progress/"+url.PathEscape(learnerID), nil)
	if !res.OK() {
		f.logger.Warn("Progress unavailable, serving fallback dataset", "learner_id", learnerID, "error", res.Err)
		return domain.ProgressSnapshot{
			LearnerID: learnerID,
			Records:   FallbackRecords(),
			Source:    domain.ProvenanceFallback,
		}
	}

	body, err := transport.Decode[payload](res)
	if err != nil {
		f.logger.Warn("Progress payload did not decode", "learner_id", learnerID, "error", err)
	}

	records := make([]domain.ProgressRecord, 0, len(body.Progress))
	for _, r := range body.Progress {
		r.Mastery = clampMastery(r.Mastery)
		records = append(records, r)
	}

	return domain.ProgressSnapshot{
		LearnerID: learnerID,
		Records:   records,
		Source:    domain.ProvenanceLive,
	}
}

func clampMastery(m int) int {
	switch {
	case m < 0:
		return 0
	case m > 100:
		return 100
	default:
		return m
	}
}
