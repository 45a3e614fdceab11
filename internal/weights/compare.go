package weights

import (
	"sort"

	"github.com/ZanzyTHEbar/relgraph-libsql-go/internal/apptype"
)

// relevanceTolerance is the float window inside which two relevance values
// are treated as tied and the secondary keys decide.
const relevanceTolerance = 1e-9

// typePriority ranks entity types for tie-breaking; lower sorts first.
// Unknown types fall into the trailing "other" bucket.
var typePriority = map[string]int{
	"task":       0,
	"idea":       1,
	"content":    2,
	"research":   3,
	"connection": 4,
	"project":    5,
}

const otherTypeRank = 6

// TypeRank returns the tie-break rank for an entity type.
func TypeRank(entityType string) int {
	if r, ok := typePriority[entityType]; ok {
		return r
	}
	return otherTypeRank
}

// Less is the tie-break comparator: a strict total order over RankedResult.
// Keys in order: relevance desc, recency desc, type rank asc, title asc,
// entity id asc. The entity id is unique, so the order is total and sorting
// the same set twice is reproducible.
func Less(a, b apptype.RankedResult) bool {
	if diff := a.Relevance - b.Relevance; diff > relevanceTolerance {
		return true
	} else if diff < -relevanceTolerance {
		return false
	}
	if diff := a.Components.Recency - b.Components.Recency; diff > relevanceTolerance {
		return true
	} else if diff < -relevanceTolerance {
		return false
	}
	ra, rb := TypeRank(a.EntityType), TypeRank(b.EntityType)
	if ra != rb {
		return ra < rb
	}
	if a.Title != b.Title {
		return a.Title < b.Title
	}
	return a.EntityID < b.EntityID
}

// SortResults orders results by the tie-break comparator, in place.
func SortResults(results []apptype.RankedResult) {
	sort.Slice(results, func(i, j int) bool { return Less(results[i], results[j]) })
}
