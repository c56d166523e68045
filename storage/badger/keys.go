package badger

import (
	"encoding/binary"
	"fmt"

	"github.com/poiesic/waypoint/core"
)

// Key prefixes for different data types
const (
	embeddingPrefix  = "emb"
	checkpointSuffix = "chkpt"
)

// makeModelPrefix generates the key prefix shared by all embeddings of a model.
// Format: prefix:model:
func makeModelPrefix(model string) []byte {
	return []byte(embeddingPrefix + ":" + model + ":")
}

// makeEmbeddingKey generates a key for a cached embedding.
// Format: prefix:model:id
func makeEmbeddingKey(model string, id core.ID) []byte {
	prefix := makeModelPrefix(model)
	buf := make([]byte, len(prefix)+8)
	offset := copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[offset:], uint64(id))
	return buf
}

// makeCheckpointKey generates a key for build checkpoints.
func makeCheckpointKey(name string) []byte {
	return []byte(fmt.Sprintf("%s:%s", name, checkpointSuffix))
}
