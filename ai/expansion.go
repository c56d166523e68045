package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/poiesic/waypoint/core"
)

// expansionItem is the wire shape of one candidate. Pointers distinguish a
// missing field from an empty one.
type expansionItem struct {
	Location *string `json:"location"`
	Reason   *string `json:"reason"`
}

// ParseCandidates decodes a raw completion into candidates, preserving the
// model's order. Code fences are stripped and unquoted keys repaired first.
// The whole response is rejected with core.ErrExpansionParse when the top
// level is not an array or any entry lacks a non-empty location or reason.
func ParseCandidates(raw string) ([]core.Candidate, error) {
	text := repairJSON(stripFences(raw))

	var top json.RawMessage
	if err := json.Unmarshal([]byte(text), &top); err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrExpansionParse, err)
	}
	if len(top) == 0 || top[0] != '[' {
		return nil, fmt.Errorf("%w: top level is not an array", core.ErrExpansionParse)
	}

	var items []expansionItem
	if err := json.Unmarshal(top, &items); err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrExpansionParse, err)
	}

	candidates := make([]core.Candidate, 0, len(items))
	for i, item := range items {
		if item.Location == nil {
			return nil, fmt.Errorf("%w: entry %d has no location", core.ErrExpansionParse, i)
		}
		if item.Reason == nil {
			return nil, fmt.Errorf("%w: entry %d has no reason", core.ErrExpansionParse, i)
		}
		c := core.Candidate{
			Location: strings.TrimSpace(*item.Location),
			Reason:   strings.TrimSpace(*item.Reason),
		}
		if err := core.ValidateCandidate(&c); err != nil {
			return nil, fmt.Errorf("%w: entry %d: %w", core.ErrExpansionParse, i, err)
		}
		candidates = append(candidates, c)
	}
	return candidates, nil
}

// SelectCandidates drops repeated locations, keeping the first occurrence,
// and truncates to maxCandidates. Order is preserved.
func SelectCandidates(candidates []core.Candidate, maxCandidates int) []core.Candidate {
	seen := make(map[string]struct{}, len(candidates))
	selected := make([]core.Candidate, 0, min(len(candidates), max(maxCandidates, 0)))
	for _, c := range candidates {
		if len(selected) >= maxCandidates {
			break
		}
		key := scrubString(c.Location)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		selected = append(selected, c)
	}
	return selected
}

// CompleteFunc performs one stateless text completion for a prompt.
type CompleteFunc func(ctx context.Context, prompt string) (string, error)

// Expand runs the expansion protocol on top of a backend's completion call:
// build the prompt, complete it under cfg's timeout and retry policy, parse,
// then dedupe and truncate. Parse failures are logged and yield no
// candidates; upstream failures are returned.
func Expand(ctx context.Context, cfg *Config, complete CompleteFunc, query string, logger *slog.Logger) ([]core.Candidate, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := core.ValidateQuery(query); err != nil {
		logger.Debug("skipping expansion of blank query")
		return []core.Candidate{}, nil
	}

	prompt := ExpansionPrompt(cfg.Region, cfg.MaxCandidates, query)
	raw, err := Call(ctx, cfg, func(ctx context.Context) (string, error) {
		return complete(ctx, prompt)
	})
	if err != nil {
		logger.Error("expansion request failed", "err", err)
		return nil, err
	}

	parsed, err := ParseCandidates(raw)
	if err != nil {
		logger.Warn("discarding unparseable expansion response", "response", raw, "err", err)
		return []core.Candidate{}, nil
	}

	candidates := SelectCandidates(parsed, cfg.MaxCandidates)
	logger.Debug("expanded query", "returned", len(parsed), "kept", len(candidates))
	return candidates, nil
}
