package mock

import (
	"context"
	"slices"
	"sync/atomic"

	"github.com/poiesic/waypoint/core"
)

// MockQueryExpander is a test double for ai.QueryExpander.
type MockQueryExpander struct {
	// ExpandFunc is called by Expand if set.
	ExpandFunc func(ctx context.Context, query string) ([]core.Candidate, error)

	// Candidates is returned by Expand when ExpandFunc is nil. A nil slice
	// means the default behavior: one candidate echoing the query.
	Candidates []core.Candidate

	callCount atomic.Int64
}

// NewMockQueryExpander creates a mock expander with default behavior.
// Note: Returns concrete type to allow test assertions via GetMockExpander().
func NewMockQueryExpander() *MockQueryExpander {
	return &MockQueryExpander{}
}

// NewScriptedExpander returns an expander that always yields the given
// candidates, in order.
func NewScriptedExpander(candidates ...core.Candidate) *MockQueryExpander {
	if candidates == nil {
		candidates = []core.Candidate{}
	}
	return &MockQueryExpander{Candidates: candidates}
}

// Expand returns scripted candidates.
func (m *MockQueryExpander) Expand(ctx context.Context, query string) ([]core.Candidate, error) {
	m.callCount.Add(1)

	if m.ExpandFunc != nil {
		return m.ExpandFunc(ctx, query)
	}
	if m.Candidates != nil {
		return slices.Clone(m.Candidates), nil
	}
	if err := core.ValidateQuery(query); err != nil {
		return []core.Candidate{}, nil
	}
	return []core.Candidate{{Location: query, Reason: "direct match"}}, nil
}

// CallCount returns the number of times Expand was called.
func (m *MockQueryExpander) CallCount() int {
	return int(m.callCount.Load())
}

// Reset clears the call count and any injected behavior.
func (m *MockQueryExpander) Reset() {
	m.callCount.Store(0)
	m.ExpandFunc = nil
	m.Candidates = nil
}
