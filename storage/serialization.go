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


package storage

import (
	"fmt"
	"time"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/raw"
	"github.com/mus-format/mus-go/varint"
	"github.com/poiesic/waypoint/core"
)

// Values are encoded with MUS: fields in declaration order, integers as
// varints, vector components as raw little-endian float32, timestamps as
// Unix microseconds.

// MarshalID serializes an ID to bytes.
func MarshalID(id core.ID) []byte {
	buf := make([]byte, varint.Uint64.Size(uint64(id)))
	varint.Uint64.Marshal(uint64(id), buf)
	return buf
}

// UnmarshalID deserializes an ID from bytes.
func UnmarshalID(data []byte) (core.ID, error) {
	v, _, err := varint.Uint64.Unmarshal(data)
	if err != nil {
		return 0, fmt.Errorf("%w: id: %w", ErrSerializationFailed, err)
	}
	return core.ID(v), nil
}

// MarshalCachedEmbedding serializes a CachedEmbedding to bytes.
func MarshalCachedEmbedding(e *core.CachedEmbedding) []byte {
	buf := make([]byte, cachedEmbeddingSize(e))
	n := varint.Uint64.Marshal(uint64(e.Id), buf)
	n += ord.String.Marshal(e.Model, buf[n:])
	n += marshalVector(e.Vector, buf[n:])
	marshalTime(e.CreatedAt, buf[n:])
	return buf
}

func cachedEmbeddingSize(e *core.CachedEmbedding) int {
	return varint.Uint64.Size(uint64(e.Id)) +
		ord.String.Size(e.Model) +
		vectorSize(e.Vector) +
		timeSize(e.CreatedAt)
}

// UnmarshalCachedEmbedding deserializes a CachedEmbedding from bytes.
func UnmarshalCachedEmbedding(data []byte) (*core.CachedEmbedding, error) {
	var (
		e   core.CachedEmbedding
		n   int
		off int
		err error
	)
	var id uint64
	if id, n, err = varint.Uint64.Unmarshal(data); err != nil {
		return nil, fmt.Errorf("%w: embedding id: %w", ErrSerializationFailed, err)
	}
	e.Id = core.ID(id)
	off += n
	if e.Model, n, err = ord.String.Unmarshal(data[off:]); err != nil {
		return nil, fmt.Errorf("%w: embedding model: %w", ErrSerializationFailed, err)
	}
	off += n
	if e.Vector, n, err = unmarshalVector(data[off:]); err != nil {
		return nil, err
	}
	off += n
	if e.CreatedAt, _, err = unmarshalTime(data[off:]); err != nil {
		return nil, err
	}
	return &e, nil
}

// MarshalCheckpoint serializes a Checkpoint to bytes.
func MarshalCheckpoint(c *core.Checkpoint) []byte {
	size := ord.String.Size(c.Name) +
		ord.String.Size(c.Fingerprint) +
		ord.String.Size(c.Model) +
		varint.Int.Size(c.Rows) +
		varint.Int.Size(c.Dim) +
		timeSize(c.UpdatedAt)
	buf := make([]byte, size)
	n := ord.String.Marshal(c.Name, buf)
	n += ord.String.Marshal(c.Fingerprint, buf[n:])
	n += ord.String.Marshal(c.Model, buf[n:])
	n += varint.Int.Marshal(c.Rows, buf[n:])
	n += varint.Int.Marshal(c.Dim, buf[n:])
	marshalTime(c.UpdatedAt, buf[n:])
	return buf
}

// UnmarshalCheckpoint deserializes a Checkpoint from bytes.
func UnmarshalCheckpoint(data []byte) (*core.Checkpoint, error) {
	var (
		c   core.Checkpoint
		n   int
		off int
		err error
	)
	for _, field := range []*string{&c.Name, &c.Fingerprint, &c.Model} {
		if *field, n, err = ord.String.Unmarshal(data[off:]); err != nil {
			return nil, fmt.Errorf("%w: checkpoint: %w", ErrSerializationFailed, err)
		}
		off += n
	}
	for _, field := range []*int{&c.Rows, &c.Dim} {
		if *field, n, err = varint.Int.Unmarshal(data[off:]); err != nil {
			return nil, fmt.Errorf("%w: checkpoint: %w", ErrSerializationFailed, err)
		}
		off += n
	}
	if c.UpdatedAt, _, err = unmarshalTime(data[off:]); err != nil {
		return nil, err
	}
	return &c, nil
}

func vectorSize(v []float32) int {
	size := varint.Int.Size(len(v))
	for _, f := range v {
		size += raw.Float32.Size(f)
	}
	return size
}

func marshalVector(v []float32, bs []byte) int {
	n := varint.Int.Marshal(len(v), bs)
	for _, f := range v {
		n += raw.Float32.Marshal(f, bs[n:])
	}
	return n
}

func unmarshalVector(bs []byte) ([]float32, int, error) {
	length, n, err := varint.Int.Unmarshal(bs)
	if err != nil {
		return nil, n, fmt.Errorf("%w: vector length: %w", ErrSerializationFailed, err)
	}
	if length < 0 || length > (len(bs)-n)/4 {
		return nil, n, fmt.Errorf("%w: vector of %d values in %d bytes", ErrTruncatedData, length, len(bs)-n)
	}
	v := make([]float32, length)
	for i := range v {
		f, m, err := raw.Float32.Unmarshal(bs[n:])
		if err != nil {
			return nil, n, fmt.Errorf("%w: vector value %d: %w", ErrSerializationFailed, i, err)
		}
		v[i] = f
		n += m
	}
	return v, n, nil
}

func timeSize(t time.Time) int {
	return varint.Int64.Size(t.UnixMicro())
}

func marshalTime(t time.Time, bs []byte) int {
	return varint.Int64.Marshal(t.UnixMicro(), bs)
}

func unmarshalTime(bs []byte) (time.Time, int, error) {
	us, n, err := varint.Int64.Unmarshal(bs)
	if err != nil {
		return time.Time{}, n, fmt.Errorf("%w: timestamp: %w", ErrSerializationFailed, err)
	}
	return time.UnixMicro(us).UTC(), n, nil
}
