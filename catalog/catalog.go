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


package catalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/poiesic/waypoint/core"
)

// ErrPositionOutOfRange is returned by Get for positions outside the catalog.
var ErrPositionOutOfRange = errors.New("catalog position out of range")

// Column names expected in the header row.
const (
	ColumnName      = "Name"
	ColumnURL       = "Url"
	ColumnTelephone = "Telephone"
	ColumnAddress   = "Address"
	ColumnTags      = "Tags"
)

var requiredColumns = []string{ColumnName, ColumnURL, ColumnTelephone, ColumnAddress, ColumnTags}

// headerAliases maps alternative header spellings onto required columns.
var headerAliases = map[string]string{
	"URL": ColumnURL,
}

// Store holds catalog records in file order.
type Store struct {
	records []core.CatalogRecord
}

// Load reads a catalog CSV file from disk.
func Load(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open catalog: %w", core.ErrLoad, err)
	}
	defer f.Close()

	store, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return store, nil
}

// Read parses a catalog from CSV. Extra columns are ignored and column order
// is free. Short rows yield empty fields.
func Read(r io.Reader) (*Store, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: catalog has no header row", core.ErrLoad)
		}
		return nil, fmt.Errorf("%w: read header: %w", core.ErrLoad, err)
	}

	cols, err := columnIndex(header)
	if err != nil {
		return nil, err
	}

	var records []core.CatalogRecord
	for line := 2; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %w", core.ErrLoad, line, err)
		}

		field := func(name string) string {
			i := cols[name]
			if i >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[i])
		}

		records = append(records, core.CatalogRecord{
			Position:  core.Position(len(records)),
			Name:      field(ColumnName),
			URL:       field(ColumnURL),
			Telephone: field(ColumnTelephone),
			Address:   field(ColumnAddress),
			Tags:      field(ColumnTags),
		})
	}

	return &Store{records: records}, nil
}

// New builds a store directly from records, renumbering positions in slice order.
func New(records []core.CatalogRecord) *Store {
	out := slices.Clone(records)
	for i := range out {
		out[i].Position = core.Position(i)
	}
	return &Store{records: out}
}

func columnIndex(header []string) (map[string]int, error) {
	cols := make(map[string]int, len(requiredColumns))
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		if alias, ok := headerAliases[name]; ok {
			name = alias
		}
		if _, seen := cols[name]; !seen {
			cols[name] = i
		}
	}

	var missing []string
	for _, name := range requiredColumns {
		if _, ok := cols[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: catalog missing columns %s", core.ErrLoad, strings.Join(missing, ", "))
	}
	return cols, nil
}

// Len returns the number of records.
func (s *Store) Len() int {
	return len(s.records)
}

// Records returns a copy of every record in position order.
func (s *Store) Records() []core.CatalogRecord {
	return slices.Clone(s.records)
}

// Get returns the records at the given positions, in the order requested.
func (s *Store) Get(positions ...core.Position) ([]core.CatalogRecord, error) {
	out := make([]core.CatalogRecord, 0, len(positions))
	for _, p := range positions {
		if p < 0 || int(p) >= len(s.records) {
			return nil, fmt.Errorf("%w: %d not in [0, %d)", ErrPositionOutOfRange, p, len(s.records))
		}
		out = append(out, s.records[p])
	}
	return out, nil
}

// Fingerprint identifies the catalog contents; see core.Fingerprint.
func (s *Store) Fingerprint() string {
	return core.Fingerprint(s.records)
}
