// Package mock provides test double implementations of AI service interfaces.
//
// This package contains mock implementations of ai.Embedder, ai.QueryExpander,
// and ai.AIProvider for use in unit tests. The mocks run without external
// services and behave deterministically.
//
// # Usage in Tests
//
//	// Scripted expansion plus hash-derived embeddings
//	expander := mock.NewScriptedExpander(
//	    core.Candidate{Location: "Kinsale", Reason: "harbour town"},
//	)
//	provider := mock.NewMockProviderWithServices(mock.NewMockEmbedder(), expander)
//
//	// Custom behavior injection
//	embedder := mock.NewMockEmbedder().
//	    WithEmbedTextFunc(func(ctx context.Context, text string) ([]float32, error) {
//	        return []float32{0.1, 0.2, 0.3}, nil
//	    })
//
// # Default Behavior
//
//   - MockEmbedder: Returns deterministic unit vectors based on text hash (see Vector)
//   - MockQueryExpander: Returns one candidate echoing the query
//   - MockProvider: Aggregates mock embedder and expander
package mock
