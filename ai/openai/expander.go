// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package openai

import (
	"context"
	"errors"
	"log/slog"

	"github.com/poiesic/waypoint/ai"
	"github.com/poiesic/waypoint/core"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

var errNoChoices = errors.New("model returned no choices")

// QueryExpander implements ai.QueryExpander using OpenAI-compatible chat APIs.
type QueryExpander struct {
	client llms.Model
	config *ai.Config
	logger *slog.Logger
}

// newQueryExpander is an internal constructor that returns the concrete type.
// Used by Provider to manage the instance.
func newQueryExpander(config *ai.Config) (*QueryExpander, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client, err := openai.New(
		openai.WithBaseURL(config.GeneratorHost),
		openai.WithToken(token(config)),
		openai.WithModel(config.GeneratorModel),
	)
	if err != nil {
		return nil, err
	}

	return &QueryExpander{
		client: client,
		config: config,
		logger: slog.Default().With("component", "openai-expander"),
	}, nil
}

// NewQueryExpander creates a new query expander using the provided configuration.
//
// Returns ai.QueryExpander interface to enforce abstraction.
func NewQueryExpander(config *ai.Config) (ai.QueryExpander, error) {
	return newQueryExpander(config)
}

// Expand asks the model for refined candidate queries.
func (e *QueryExpander) Expand(ctx context.Context, query string) ([]core.Candidate, error) {
	return ai.Expand(ctx, e.config, e.complete, query, e.logger)
}

// complete sends the prompt as a single user message. JSON mode is not
// requested: OpenAI-compatible JSON mode only admits objects at the top
// level and the expected response is an array.
func (e *QueryExpander) complete(ctx context.Context, prompt string) (string, error) {
	content := []llms.MessageContent{
		{
			Role: llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{
				llms.TextPart(prompt),
			},
		},
	}

	response, err := e.client.GenerateContent(ctx, content, llms.WithTemperature(0.0))
	if err != nil {
		return "", err
	}
	if len(response.Choices) < 1 {
		return "", errNoChoices
	}
	return response.Choices[0].Content, nil
}
