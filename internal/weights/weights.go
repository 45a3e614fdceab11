// Package weights holds the pure scoring functions of the relevance graph:
// converting raw signals into bounded component weights, reducing the four
// components to one relevance value, and the total-order comparator used to
// rank results. No state, no I/O.
package weights

import (
	"fmt"
	"math"
	"time"

	"github.com/ZanzyTHEbar/relgraph-libsql-go/internal/apptype"
)

// Coefficients is the convex combination applied to the four component
// weights. The four values must sum to 1.0.
type Coefficients struct {
	Semantic   float64
	Structural float64
	Recency    float64
	Usage      float64
}

// DefaultCoefficients returns the calibrated production mix.
func DefaultCoefficients() Coefficients {
	return Coefficients{Semantic: 0.55, Structural: 0.25, Recency: 0.10, Usage: 0.10}
}

// StructuralWeights is the per-relationship-kind weight table. It is a
// configuration surface: deployments may tune it, the defaults are the
// calibrated values.
type StructuralWeights struct {
	ExplicitLink     float64
	SharedParent     float64
	SpatialBase      float64
	SpatialDecayDist float64
	Transitive       float64
	SharedConcept    float64
	SameCategory     float64
	SameCluster      float64
}

// DefaultStructuralWeights returns the calibrated structural table.
func DefaultStructuralWeights() StructuralWeights {
	return StructuralWeights{
		ExplicitLink:     1.0,
		SharedParent:     0.7,
		SpatialBase:      0.6,
		SpatialDecayDist: 500,
		Transitive:       0.4,
		SharedConcept:    0.35,
		SameCategory:     0.3,
		SameCluster:      0.25,
	}
}

// Config collects every tunable of the calculator with calibrated defaults.
type Config struct {
	Coefficients       Coefficients
	Structural         StructuralWeights
	KeywordCeiling     float64
	RecencyHalfLife    time.Duration
	RecencyFloor       float64
	RecencyFullWindow  time.Duration
	UsageSigmoidCenter float64
	UsageLogCeiling    float64
}

// DefaultConfig returns the calibrated configuration.
func DefaultConfig() Config {
	return Config{
		Coefficients:       DefaultCoefficients(),
		Structural:         DefaultStructuralWeights(),
		KeywordCeiling:     25,
		RecencyHalfLife:    7 * 24 * time.Hour,
		RecencyFloor:       0.1,
		RecencyFullWindow:  24 * time.Hour,
		UsageSigmoidCenter: 3,
		UsageLogCeiling:    100,
	}
}

// Calculator converts raw signals into component weights and combines them.
type Calculator struct {
	cfg Config
}

const coefficientTolerance = 1e-9

// NewCalculator validates the coefficient mix and returns a calculator.
func NewCalculator(cfg Config) (*Calculator, error) {
	sum := cfg.Coefficients.Semantic + cfg.Coefficients.Structural +
		cfg.Coefficients.Recency + cfg.Coefficients.Usage
	if math.Abs(sum-1.0) > coefficientTolerance {
		return nil, fmt.Errorf("weight coefficients must sum to 1.0, got %v", sum)
	}
	if cfg.KeywordCeiling <= 0 {
		return nil, fmt.Errorf("keyword ceiling must be positive, got %v", cfg.KeywordCeiling)
	}
	if cfg.RecencyHalfLife <= 0 {
		return nil, fmt.Errorf("recency half-life must be positive, got %v", cfg.RecencyHalfLife)
	}
	return &Calculator{cfg: cfg}, nil
}

// MustCalculator returns a calculator with the default config.
func MustCalculator() *Calculator {
	c, err := NewCalculator(DefaultConfig())
	if err != nil {
		panic(err)
	}
	return c
}

// Config returns the calculator's configuration.
func (c *Calculator) Config() Config { return c.cfg }

// Combine reduces the four component weights to a single relevance value.
// Inputs are clamped to [0,1] before mixing; the output is clamped as well.
func (c *Calculator) Combine(w apptype.WeightComponents) float64 {
	v := c.cfg.Coefficients.Semantic*clamp01(w.Semantic) +
		c.cfg.Coefficients.Structural*clamp01(w.Structural) +
		c.cfg.Coefficients.Recency*clamp01(w.Recency) +
		c.cfg.Coefficients.Usage*clamp01(w.Usage)
	return clamp01(v)
}

// Semantic passes a cosine similarity through as the semantic weight.
func (c *Calculator) Semantic(similarity float64) float64 {
	return clamp01(similarity)
}

// SemanticFromKeyword derives a semantic-weight substitute from a raw
// keyword-match score when no embedding is available.
func (c *Calculator) SemanticFromKeyword(score float64) float64 {
	return clamp01(score / c.cfg.KeywordCeiling)
}

// RelationClass tags a StructuralRelation. The set is closed; Structural
// dispatches on it in one exhaustive switch.
type RelationClass int

const (
	RelExplicitLink RelationClass = iota
	RelSharedParent
	RelSpatial
	RelTransitive
	RelSharedConcept
	RelSameCategory
	RelSameCluster
)

// StructuralRelation is a tagged union describing how two nodes are
// structurally related. Distance applies to RelSpatial; SharedConcepts to
// RelSharedConcept.
type StructuralRelation struct {
	Class          RelationClass
	Distance       float64
	SharedConcepts int
}

// Structural maps a relation onto its structural weight. This is the single
// place per-kind weight rules live.
func (c *Calculator) Structural(rel StructuralRelation) float64 {
	t := c.cfg.Structural
	switch rel.Class {
	case RelExplicitLink:
		return clamp01(t.ExplicitLink)
	case RelSharedParent:
		return clamp01(t.SharedParent)
	case RelSpatial:
		decay := math.Exp(-math.Abs(rel.Distance) / t.SpatialDecayDist)
		return clamp01(t.SpatialBase * decay)
	case RelTransitive:
		return clamp01(t.Transitive)
	case RelSharedConcept:
		n := rel.SharedConcepts
		if n < 1 {
			n = 1
		}
		return clamp01(t.SharedConcept * float64(n))
	case RelSameCategory:
		return clamp01(t.SameCategory)
	case RelSameCluster:
		return clamp01(t.SameCluster)
	default:
		return 0
	}
}

// RelationForKind derives the structural relation implied by an edge kind.
// Semantic edges carry no structural weight, reported by ok=false.
func RelationForKind(kind apptype.EdgeKind) (StructuralRelation, bool) {
	switch kind {
	case apptype.EdgeKindExplicit:
		return StructuralRelation{Class: RelExplicitLink}, true
	case apptype.EdgeKindConceptual:
		return StructuralRelation{Class: RelSharedConcept, SharedConcepts: 1}, true
	case apptype.EdgeKindContextual:
		return StructuralRelation{Class: RelSameCluster}, true
	case apptype.EdgeKindTransitive:
		return StructuralRelation{Class: RelTransitive}, true
	case apptype.EdgeKindSemantic:
		return StructuralRelation{}, false
	default:
		return StructuralRelation{}, false
	}
}

// Recency applies exponential half-life decay to elapsed time since last
// update. Anything inside the full-credit window scores 1.0; nothing decays
// below the floor.
func (c *Calculator) Recency(elapsed time.Duration) float64 {
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed < c.cfg.RecencyFullWindow {
		return 1.0
	}
	halfLives := float64(elapsed) / float64(c.cfg.RecencyHalfLife)
	w := math.Pow(0.5, halfLives)
	if w < c.cfg.RecencyFloor {
		return c.cfg.RecencyFloor
	}
	return clamp01(w)
}

// accessEventWeights scores one access event of each type.
var accessEventWeights = map[apptype.AccessEventType]float64{
	apptype.AccessView:        0.5,
	apptype.AccessEdit:        1.0,
	apptype.AccessSearchClick: 0.3,
	apptype.AccessReference:   0.7,
}

// UsageFromEvents computes the usage weight from typed access-event counts
// via a sigmoid centered at the configured weighted-sum midpoint.
func (c *Calculator) UsageFromEvents(events map[apptype.AccessEventType]int) float64 {
	var sum float64
	for typ, n := range events {
		if n <= 0 {
			continue
		}
		sum += accessEventWeights[typ] * float64(n)
	}
	if sum == 0 {
		return 0
	}
	return clamp01(1.0 / (1.0 + math.Exp(c.cfg.UsageSigmoidCenter-sum)))
}

// UsageFromCount computes the usage weight from a raw access counter when
// event-type granularity is unavailable: log(1+n)/log(1+ceiling).
func (c *Calculator) UsageFromCount(n int) float64 {
	if n <= 0 {
		return 0
	}
	return clamp01(math.Log(1+float64(n)) / math.Log(1+c.cfg.UsageLogCeiling))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
