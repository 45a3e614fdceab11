package layout

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/relgraph-libsql-go/internal/apptype"
)

func neighborhood(focal string, edges ...[2]string) apptype.Neighborhood {
	seen := map[string]struct{}{focal: {}}
	n := apptype.Neighborhood{Nodes: []apptype.GraphNode{{EntityID: focal, EntityType: "content"}}}
	for _, e := range edges {
		n.Edges = append(n.Edges, apptype.GraphEdge{
			Source: e[0], Target: e[1], Kind: apptype.EdgeKindExplicit, Combined: 0.5,
		})
		for _, id := range e {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				n.Nodes = append(n.Nodes, apptype.GraphNode{EntityID: id, EntityType: "content"})
			}
		}
	}
	return n
}

func byID(positions []Position) map[string]Position {
	out := make(map[string]Position, len(positions))
	for _, p := range positions {
		out[p.EntityID] = p
	}
	return out
}

func TestComputeFocalFixedAtOrigin(t *testing.T) {
	n := neighborhood("f", [2]string{"f", "a"}, [2]string{"f", "b"}, [2]string{"a", "c"})
	positions := Compute("f", n, DefaultConfig())
	require.Len(t, positions, 4)

	pos := byID(positions)
	assert.Zero(t, pos["f"].X)
	assert.Zero(t, pos["f"].Y)
	assert.Equal(t, 0, pos["f"].Hop)
	assert.Equal(t, 1, pos["a"].Hop)
	assert.Equal(t, 1, pos["b"].Hop)
	assert.Equal(t, 2, pos["c"].Hop)
}

func TestComputeRingsGrowWithHops(t *testing.T) {
	n := neighborhood("f", [2]string{"f", "a"}, [2]string{"a", "b"}, [2]string{"b", "c"})
	cfg := DefaultConfig()
	cfg.Iterations = 0 // pure ring placement
	positions := Compute("f", n, cfg)
	pos := byID(positions)

	rA := math.Hypot(pos["a"].X, pos["a"].Y)
	rB := math.Hypot(pos["b"].X, pos["b"].Y)
	rC := math.Hypot(pos["c"].X, pos["c"].Y)
	assert.InDelta(t, cfg.RingSpacing, rA, 1e-9)
	assert.InDelta(t, 2*cfg.RingSpacing, rB, 1e-9)
	assert.InDelta(t, 3*cfg.RingSpacing, rC, 1e-9)
}

func TestComputeDeterministic(t *testing.T) {
	n := neighborhood("f",
		[2]string{"f", "a"}, [2]string{"f", "b"}, [2]string{"f", "c"},
		[2]string{"a", "d"}, [2]string{"b", "e"})
	first := Compute("f", n, DefaultConfig())
	second := Compute("f", n, DefaultConfig())
	assert.Equal(t, first, second)
}

func TestComputeSeparatesCrowdedRing(t *testing.T) {
	// Many nodes on one ring: relaxation must keep every pair apart.
	edges := make([][2]string, 0, 8)
	for _, id := range []string{"a", "b", "c", "d", "e", "g", "h", "i"} {
		edges = append(edges, [2]string{"f", id})
	}
	n := neighborhood("f", edges...)
	positions := Compute("f", n, DefaultConfig())
	require.Len(t, positions, 9)

	for i := 0; i < len(positions); i++ {
		for j := i + 1; j < len(positions); j++ {
			d := math.Hypot(positions[i].X-positions[j].X, positions[i].Y-positions[j].Y)
			assert.Greater(t, d, 1.0, "%s and %s overlap", positions[i].EntityID, positions[j].EntityID)
		}
	}
}

func TestComputeUnreachableNodeOuterRing(t *testing.T) {
	n := neighborhood("f", [2]string{"f", "a"})
	n.Nodes = append(n.Nodes, apptype.GraphNode{EntityID: "island", EntityType: "content"})
	cfg := DefaultConfig()
	cfg.Iterations = 0
	positions := Compute("f", n, cfg)
	pos := byID(positions)
	assert.Equal(t, 2, pos["island"].Hop, "disconnected nodes land one ring past the furthest hop")
}

func TestComputeEmpty(t *testing.T) {
	assert.Nil(t, Compute("f", apptype.Neighborhood{}, DefaultConfig()))
}
