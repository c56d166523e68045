package search

import (
	"github.com/poiesic/waypoint/core"
)

// SearchMonitor provides hooks to observe the search process.
// Implement this interface to track intermediate steps and results during search.
//
// AfterCandidateSearch and EmbeddingCacheLookup may be called from several
// goroutines at once when the fuser runs with concurrency above one.
type SearchMonitor interface {
	Start(query string)
	AfterExpansion(candidates []core.Candidate)
	EmbeddingCacheLookup(hit bool)
	AfterCandidateSearch(rank int, candidate core.Candidate, matches []core.Match)
	Finish(results []core.ScoredResult)
	Failed(err error)
}

// noopMonitor is a no-op implementation of SearchMonitor
type noopMonitor struct{}

var _ SearchMonitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ string)                                               {}
func (n *noopMonitor) AfterExpansion(_ []core.Candidate)                            {}
func (n *noopMonitor) EmbeddingCacheLookup(_ bool)                                  {}
func (n *noopMonitor) AfterCandidateSearch(_ int, _ core.Candidate, _ []core.Match) {}
func (n *noopMonitor) Finish(_ []core.ScoredResult)                                 {}
func (n *noopMonitor) Failed(_ error)                                               {}

// Monitors fans every hook out to each monitor in order.
type Monitors []SearchMonitor

var _ SearchMonitor = Monitors(nil)

func (m Monitors) Start(query string) {
	for _, mon := range m {
		mon.Start(query)
	}
}

func (m Monitors) AfterExpansion(candidates []core.Candidate) {
	for _, mon := range m {
		mon.AfterExpansion(candidates)
	}
}

func (m Monitors) EmbeddingCacheLookup(hit bool) {
	for _, mon := range m {
		mon.EmbeddingCacheLookup(hit)
	}
}

func (m Monitors) AfterCandidateSearch(rank int, candidate core.Candidate, matches []core.Match) {
	for _, mon := range m {
		mon.AfterCandidateSearch(rank, candidate, matches)
	}
}

func (m Monitors) Finish(results []core.ScoredResult) {
	for _, mon := range m {
		mon.Finish(results)
	}
}

func (m Monitors) Failed(err error) {
	for _, mon := range m {
		mon.Failed(err)
	}
}
