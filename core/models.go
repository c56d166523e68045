package core

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// ID is a 64-bit content hash used to key cached embeddings.
type ID uint64

// IDFromContent hashes text with blake2b into an ID.
func IDFromContent(text string) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// Fingerprint hashes the full contents of a catalog in row order.
// Any edit, insertion or reordering changes the result.
func Fingerprint(records []CatalogRecord) string {
	h, _ := blake2b.New256(nil)
	for _, r := range records {
		// Unit separators keep field boundaries unambiguous.
		fmt.Fprintf(h, "%d\x1f%s\x1f%s\x1f%s\x1f%s\x1f%s\x1e",
			r.Position, r.Name, r.URL, r.Telephone, r.Address, r.Tags)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Position is the zero-based row index of a record in the catalog. The
// embedding matrix uses the same indexing.
type Position int

// Metric selects how the index scores a query against a row.
type Metric int

const (
	// MetricCosine scores by inner product of L2-normalized vectors.
	MetricCosine Metric = iota + 1
	// MetricEuclidean scores by negated squared L2 distance.
	MetricEuclidean
)

// String returns the flag spelling of the metric.
func (m Metric) String() string {
	switch m {
	case MetricCosine:
		return "cosine"
	case MetricEuclidean:
		return "euclidean"
	default:
		return fmt.Sprintf("metric(%d)", int(m))
	}
}

// ParseMetric converts a metric name into a Metric.
func ParseMetric(name string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "cosine", "":
		return MetricCosine, nil
	case "euclidean", "l2":
		return MetricEuclidean, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownMetric, name)
	}
}

// CatalogRecord is one attraction row of the catalog CSV.
type CatalogRecord struct {
	Position  Position
	Name      string
	URL       string
	Telephone string
	Address   string
	Tags      string // comma separated, as found in the source
}

// TagList splits Tags on commas, dropping blanks.
func (r *CatalogRecord) TagList() []string {
	parts := strings.Split(r.Tags, ",")
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			tags = append(tags, p)
		}
	}
	return tags
}

// Text renders the record as the passage embedded for the catalog matrix.
func (r *CatalogRecord) Text() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{r.Name, r.Address, strings.Join(r.TagList(), ", ")} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ". ")
}

// Candidate is one refined query produced by query expansion.
type Candidate struct {
	Location string
	Reason   string
}

// Query is the text embedded for this candidate: the location with its
// rationale folded in.
func (c Candidate) Query() string {
	return c.Location + ", " + c.Reason
}

// Match is a single nearest-neighbor hit. Higher scores are more similar
// regardless of metric.
type Match struct {
	Position Position
	Score    float32
}

// ScoredResult is a catalog record joined with its (decayed) score.
type ScoredResult struct {
	Record CatalogRecord
	Score  float64
	Rank   int // rank of the candidate query that produced this hit
}

// CachedEmbedding is a persisted embedding of one piece of catalog text.
type CachedEmbedding struct {
	Id        ID
	Model     string
	Vector    []float32
	CreatedAt time.Time
}

// Checkpoint records the last completed catalog embedding build.
type Checkpoint struct {
	Name        string
	Fingerprint string
	Model       string
	Rows        int
	Dim         int
	UpdatedAt   time.Time
}
