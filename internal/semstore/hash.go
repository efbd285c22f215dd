package semstore

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"strings"
)

const hashEmbedderDims = 256

// HashEmbedder derives a deterministic pseudo-embedding from the text hash.
// It carries no semantics and exists so the stub provider can run offline
// without an embeddings API key. Never use it against a store ingested with
// real embeddings.
type HashEmbedder struct{}

// Embed returns a deterministic unit-length vector for the text.
func (HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(text))))
	vec := make([]float32, hashEmbedderDims)
	var norm float32
	for i := range vec {
		// Stretch the 32 digest bytes across the vector by rehashing
		// the digest with the lane index.
		var lane [36]byte
		copy(lane[:32], sum[:])
		binary.BigEndian.PutUint32(lane[32:], uint32(i))
		h := sha256.Sum256(lane[:])
		v := float32(int16(binary.BigEndian.Uint16(h[:2]))) / 32768
		vec[i] = v
		norm += v * v
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(float64(norm)))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec, nil
}
