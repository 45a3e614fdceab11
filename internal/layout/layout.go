// Package layout places a neighborhood on a 2D canvas: concentric rings by
// hop distance from the focal node, then a bounded force relaxation. Pure
// geometry over query output; nothing here feeds back into ranking.
package layout

import (
	"math"
	"sort"

	"github.com/ZanzyTHEbar/relgraph-libsql-go/internal/apptype"
)

// Config holds the layout tunables.
type Config struct {
	// RingSpacing is the radius increment per hop ring.
	RingSpacing float64
	// Iterations bounds the force relaxation.
	Iterations int
	// Separation is the distance below which nodes repel.
	Separation float64
	// RepulsionStrength and SpringStrength scale the two forces.
	RepulsionStrength float64
	SpringStrength    float64
	// SpringLength is the rest length of edge springs.
	SpringLength float64
}

// DefaultConfig returns the calibrated layout configuration.
func DefaultConfig() Config {
	return Config{
		RingSpacing:       120,
		Iterations:        10,
		Separation:        60,
		RepulsionStrength: 40,
		SpringStrength:    0.05,
		SpringLength:      100,
	}
}

// Position is one placed node.
type Position struct {
	EntityID string  `json:"entityId"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Hop      int     `json:"hop"`
}

// Compute places the neighborhood around the focal node. The focal node
// sits at the origin and never moves; every other node starts on the ring
// of its hop distance and relaxes for a fixed number of iterations.
// Unreachable nodes land on the outermost ring plus one.
func Compute(focal string, n apptype.Neighborhood, cfg Config) []Position {
	if cfg.RingSpacing <= 0 {
		cfg = DefaultConfig()
	}
	if len(n.Nodes) == 0 {
		return nil
	}

	hops := hopDistances(focal, n)
	maxHop := 0
	for _, h := range hops {
		if h > maxHop {
			maxHop = h
		}
	}

	// Deterministic order: ring by hop, then entity id around the ring.
	ids := make([]string, 0, len(n.Nodes))
	for i := range n.Nodes {
		ids = append(ids, n.Nodes[i].EntityID)
	}
	sort.Strings(ids)

	ringMembers := make(map[int][]string)
	for _, id := range ids {
		h, ok := hops[id]
		if !ok {
			h = maxHop + 1
		}
		hops[id] = h
		ringMembers[h] = append(ringMembers[h], id)
	}

	pos := make(map[string][2]float64, len(ids))
	for hop, members := range ringMembers {
		radius := float64(hop) * cfg.RingSpacing
		for i, id := range members {
			if hop == 0 {
				pos[id] = [2]float64{0, 0}
				continue
			}
			angle := 2 * math.Pi * float64(i) / float64(len(members))
			pos[id] = [2]float64{radius * math.Cos(angle), radius * math.Sin(angle)}
		}
	}

	relax(focal, ids, n.Edges, pos, cfg)

	out := make([]Position, 0, len(ids))
	for _, id := range ids {
		p := pos[id]
		out = append(out, Position{EntityID: id, X: p[0], Y: p[1], Hop: hops[id]})
	}
	return out
}

// hopDistances runs BFS over the neighborhood's edges from the focal node.
func hopDistances(focal string, n apptype.Neighborhood) map[string]int {
	adj := make(map[string][]string)
	for _, e := range n.Edges {
		adj[e.Source] = append(adj[e.Source], e.Target)
		adj[e.Target] = append(adj[e.Target], e.Source)
	}
	dist := map[string]int{focal: 0}
	frontier := []string{focal}
	for len(frontier) > 0 {
		var next []string
		for _, id := range frontier {
			for _, nb := range adj[id] {
				if _, seen := dist[nb]; !seen {
					dist[nb] = dist[id] + 1
					next = append(next, nb)
				}
			}
		}
		frontier = next
	}
	return dist
}

// relax applies pairwise repulsion below the separation threshold and
// spring attraction along edges. Forces accumulate per iteration and apply
// in one step so the result is order-independent.
func relax(focal string, ids []string, edges []apptype.GraphEdge, pos map[string][2]float64, cfg Config) {
	for iter := 0; iter < cfg.Iterations; iter++ {
		force := make(map[string][2]float64, len(ids))

		for i := 0; i < len(ids); i++ {
			for j := i + 1; j < len(ids); j++ {
				a, b := ids[i], ids[j]
				dx := pos[b][0] - pos[a][0]
				dy := pos[b][1] - pos[a][1]
				d := math.Hypot(dx, dy)
				if d >= cfg.Separation {
					continue
				}
				if d < 1e-6 {
					// Coincident nodes: push apart along a stable axis.
					dx, dy, d = 1, 0, 1
				}
				push := cfg.RepulsionStrength * (cfg.Separation - d) / cfg.Separation
				fx, fy := push*dx/d, push*dy/d
				fa, fb := force[a], force[b]
				force[a] = [2]float64{fa[0] - fx, fa[1] - fy}
				force[b] = [2]float64{fb[0] + fx, fb[1] + fy}
			}
		}

		for _, e := range edges {
			pa, okA := pos[e.Source]
			pb, okB := pos[e.Target]
			if !okA || !okB {
				continue
			}
			dx := pb[0] - pa[0]
			dy := pb[1] - pa[1]
			d := math.Hypot(dx, dy)
			if d < 1e-6 {
				continue
			}
			pull := cfg.SpringStrength * (d - cfg.SpringLength)
			fx, fy := pull*dx/d, pull*dy/d
			fa, fb := force[e.Source], force[e.Target]
			force[e.Source] = [2]float64{fa[0] + fx, fa[1] + fy}
			force[e.Target] = [2]float64{fb[0] - fx, fb[1] - fy}
		}

		for _, id := range ids {
			if id == focal {
				continue
			}
			f := force[id]
			p := pos[id]
			pos[id] = [2]float64{p[0] + f[0], p[1] + f[1]}
		}
	}
}
