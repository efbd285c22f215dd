package semstore

import (
	"context"
	"math"
	"testing"
)

func TestHashEmbedder_Deterministic(t *testing.T) {
	e := HashEmbedder{}
	ctx := context.Background()

	a, err := e.Embed(ctx, "The Minister misled the House")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	b, _ := e.Embed(ctx, "  the minister misled the house ")
	if len(a) != hashEmbedderDims {
		t.Fatalf("dims = %d, want %d", len(a), hashEmbedderDims)
	}
	// Case and surrounding whitespace must not change the vector
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("vectors differ at %d despite equal normalized text", i)
		}
	}

	c, _ := e.Embed(ctx, "a different statement entirely")
	same := true
	for i := range a {
		if a[i] != c[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("different texts produced identical vectors")
	}
}

func TestHashEmbedder_UnitNorm(t *testing.T) {
	vec, err := HashEmbedder{}.Embed(context.Background(), "order, order")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if math.Abs(math.Sqrt(norm)-1) > 1e-3 {
		t.Errorf("vector norm = %f, want 1", math.Sqrt(norm))
	}
}
