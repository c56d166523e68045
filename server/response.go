package server

import (
	"encoding/json"
	"log/slog"
	"math"
	"net/http"

	"github.com/poiesic/waypoint/core"
)

// Result is the wire form of one ranked record. Empty catalog cells and
// non-finite scores encode as null.
type Result struct {
	Name      *string  `json:"Name"`
	Url       *string  `json:"Url"`
	Telephone *string  `json:"Telephone"`
	Address   *string  `json:"Address"`
	Tags      *string  `json:"Tags"`
	Score     *float64 `json:"score"`
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func toResults(scored []core.ScoredResult) []Result {
	out := make([]Result, len(scored))
	for i, s := range scored {
		out[i] = Result{
			Name:      nullable(s.Record.Name),
			Url:       nullable(s.Record.URL),
			Telephone: nullable(s.Record.Telephone),
			Address:   nullable(s.Record.Address),
			Tags:      nullable(s.Record.Tags),
		}
		if !math.IsNaN(s.Score) && !math.IsInf(s.Score, 0) {
			score := s.Score
			out[i].Score = &score
		}
	}
	return out
}

type errorBody struct {
	Detail string `json:"detail"`
}

type upstreamErrorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "err", err)
	}
}

func respondDetail(w http.ResponseWriter, status int, detail string) {
	respondJSON(w, status, errorBody{Detail: detail})
}
