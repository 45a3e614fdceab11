package weights

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/relgraph-libsql-go/internal/apptype"
)

func TestLessOrdersByRelevanceFirst(t *testing.T) {
	a := apptype.RankedResult{EntityID: "a", Relevance: 0.595}
	b := apptype.RankedResult{EntityID: "b", Relevance: 0.26}
	assert.True(t, Less(a, b))
	assert.False(t, Less(b, a))
}

func TestLessRecencyBreaksTies(t *testing.T) {
	fresh := apptype.RankedResult{
		EntityID:   "fresh",
		Relevance:  0.50,
		Components: apptype.WeightComponents{Recency: 0.8},
	}
	stale := apptype.RankedResult{
		EntityID:   "stale",
		Relevance:  0.50,
		Components: apptype.WeightComponents{Recency: 0.3},
	}
	assert.True(t, Less(fresh, stale))
	assert.False(t, Less(stale, fresh))
}

func TestLessTypePriority(t *testing.T) {
	mk := func(id, typ string) apptype.RankedResult {
		return apptype.RankedResult{EntityID: id, EntityType: typ, Relevance: 0.4}
	}
	order := []string{"task", "idea", "content", "research", "connection", "project", "unclassified"}
	for i := 0; i+1 < len(order); i++ {
		hi := mk("x", order[i])
		lo := mk("y", order[i+1])
		assert.True(t, Less(hi, lo), "%s should outrank %s", order[i], order[i+1])
	}
}

func TestLessFallsThroughToTitleAndID(t *testing.T) {
	a := apptype.RankedResult{EntityID: "1", EntityType: "task", Title: "alpha", Relevance: 0.4}
	b := apptype.RankedResult{EntityID: "2", EntityType: "task", Title: "beta", Relevance: 0.4}
	assert.True(t, Less(a, b))

	c := apptype.RankedResult{EntityID: "id-a", EntityType: "task", Title: "same", Relevance: 0.4}
	d := apptype.RankedResult{EntityID: "id-b", EntityType: "task", Title: "same", Relevance: 0.4}
	assert.True(t, Less(c, d))
	assert.False(t, Less(d, c))
}

func TestLessIsStrictTotalOrder(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	types := []string{"task", "idea", "content", "research", "project", "misc"}
	titles := []string{"alpha", "beta", "gamma", ""}
	results := make([]apptype.RankedResult, 60)
	for i := range results {
		results[i] = apptype.RankedResult{
			EntityID:   string(rune('a'+i%26)) + string(rune('0'+i/26)),
			EntityType: types[rng.Intn(len(types))],
			Title:      titles[rng.Intn(len(titles))],
			Relevance:  float64(rng.Intn(4)) * 0.25,
			Components: apptype.WeightComponents{Recency: float64(rng.Intn(3)) * 0.5},
		}
	}

	// Irreflexive and antisymmetric.
	for _, r := range results {
		assert.False(t, Less(r, r))
	}
	for i := range results {
		for j := range results {
			if i == j {
				continue
			}
			assert.NotEqual(t, Less(results[i], results[j]), Less(results[j], results[i]),
				"exactly one of a<b, b<a must hold for distinct ids")
		}
	}

	// Transitive over sampled triples.
	for i := 0; i < len(results); i++ {
		for j := 0; j < len(results); j++ {
			for k := 0; k < len(results); k++ {
				if Less(results[i], results[j]) && Less(results[j], results[k]) {
					require.True(t, Less(results[i], results[k]))
				}
			}
		}
	}
}

func TestSortResultsIsReproducible(t *testing.T) {
	base := []apptype.RankedResult{
		{EntityID: "c", EntityType: "idea", Relevance: 0.5, Components: apptype.WeightComponents{Recency: 0.3}},
		{EntityID: "a", EntityType: "task", Relevance: 0.5, Components: apptype.WeightComponents{Recency: 0.8}},
		{EntityID: "b", EntityType: "task", Relevance: 0.9},
		{EntityID: "d", EntityType: "project", Relevance: 0.5, Components: apptype.WeightComponents{Recency: 0.3}},
	}

	first := append([]apptype.RankedResult(nil), base...)
	SortResults(first)
	// Shuffle and sort again: identical ordering.
	second := []apptype.RankedResult{base[3], base[1], base[0], base[2]}
	SortResults(second)
	require.Equal(t, first, second)

	assert.Equal(t, "b", first[0].EntityID)
	assert.Equal(t, "a", first[1].EntityID)
}
