package topology

import (
	"hash/fnv"
	"math"
)

// Vec2 is a 2D position/velocity/force vector.
type Vec2 struct{ X, Y float64 }

func (a Vec2) Add(b Vec2) Vec2   { return Vec2{a.X + b.X, a.Y + b.Y} }
func (a Vec2) Sub(b Vec2) Vec2   { return Vec2{a.X - b.X, a.Y - b.Y} }
func (a Vec2) Scale(s float64) Vec2 { return Vec2{a.X * s, a.Y * s} }
func (a Vec2) Len() float64      { return math.Hypot(a.X, a.Y) }
func (a Vec2) LenSq() float64    { return a.X*a.X + a.Y*a.Y }

// LayoutConfig tunes the force-directed simulator (spec §4.9).
type LayoutConfig struct {
	Repulsion    float64 // k_r
	Attraction   float64 // k_a
	RestLength   float64 // base rest_length for an edge of weight 1
	Centering    float64 // k_c
	Damping      float64 // d, fraction of velocity removed per tick
	Epsilon      float64 // minimum distance before repulsion is clamped
	EpsilonStop  float64 // kinetic-energy convergence threshold
	Dt           float64 // fixed tick Δt
	CenterX      float64
	CenterY      float64
	SeedRadius   float64 // radius of the Fibonacci lattice used for initial placement
}

func (c *LayoutConfig) applyDefaults() {
	if c.Repulsion == 0 {
		c.Repulsion = 8000
	}
	if c.Attraction == 0 {
		c.Attraction = 0.06
	}
	if c.RestLength == 0 {
		c.RestLength = 80
	}
	if c.Centering == 0 {
		c.Centering = 0.01
	}
	if c.Damping == 0 {
		c.Damping = 0.15
	}
	if c.Epsilon == 0 {
		c.Epsilon = 0.5
	}
	if c.EpsilonStop == 0 {
		c.EpsilonStop = 0.01
	}
	if c.Dt == 0 {
		c.Dt = 1.0 / 60.0
	}
	if c.CenterX == 0 && c.CenterY == 0 {
		c.CenterX, c.CenterY = 500, 500
	}
	if c.SeedRadius == 0 {
		c.SeedRadius = 400
	}
}

// goldenAngle is the angular increment (radians) between successive points
// on a Fibonacci lattice, giving even, non-repeating angular spacing.
const goldenAngle = math.Pi * (3 - 1.6180339887498949)

// seededPosition derives a deterministic initial position for id: a hash of
// id picks both the lattice index and the radial fraction, so the same
// source always starts at the same point on the lattice (spec §4.9:
// "reproducible from a seeded initial position function").
func seededPosition(id string, centerX, centerY, radius float64) Vec2 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(id))
	sum := h.Sum64()

	idx := float64(sum % 100000)
	frac := float64((sum/100000)%1000000) / 1000000.0

	r := radius * math.Sqrt(frac)
	theta := idx * goldenAngle
	return Vec2{X: centerX + r*math.Cos(theta), Y: centerY + r*math.Sin(theta)}
}

// Tick advances the simulation by one fixed Δt, returning false once the
// system has converged (total kinetic energy below EpsilonStop). A
// converged graph (Idle() == true) is only re-activated by the next
// Observe/PurgeExpired/SetPinned call that changes topology.
func (g *Graph) Tick() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.idle || len(g.nodes) == 0 {
		return false
	}

	order := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		order = append(order, id)
	}

	forces := make(map[string]Vec2, len(order))

	for i := 0; i < len(order); i++ {
		a := g.nodes[order[i]]
		for j := i + 1; j < len(order); j++ {
			b := g.nodes[order[j]]
			delta := a.Pos.Sub(b.Pos)
			dist := delta.Len()
			if dist < g.layout.Epsilon {
				dist = g.layout.Epsilon
			}
			mag := g.layout.Repulsion / (dist * dist)
			unit := delta.Scale(1 / dist)
			f := unit.Scale(mag)
			forces[a.ID] = forces[a.ID].Add(f)
			forces[b.ID] = forces[b.ID].Sub(f)
		}
	}

	for _, e := range g.edges {
		a, aok := g.nodes[e.Src]
		b, bok := g.nodes[e.Dst]
		if !aok || !bok {
			continue
		}
		delta := b.Pos.Sub(a.Pos)
		dist := delta.Len()
		if dist < g.layout.Epsilon {
			dist = g.layout.Epsilon
		}
		restLength := g.layout.RestLength
		if e.Weight > 1 {
			restLength = g.layout.RestLength / e.Weight
		}
		mag := g.layout.Attraction * (dist - restLength)
		unit := delta.Scale(1 / dist)
		f := unit.Scale(mag)
		forces[a.ID] = forces[a.ID].Add(f)
		forces[b.ID] = forces[b.ID].Sub(f)
	}

	center := Vec2{X: g.layout.CenterX, Y: g.layout.CenterY}
	for _, id := range order {
		n := g.nodes[id]
		toCenter := center.Sub(n.Pos)
		forces[id] = forces[id].Add(toCenter.Scale(g.layout.Centering))
	}

	var totalKE float64
	for _, id := range order {
		n := g.nodes[id]
		if n.Pinned {
			continue
		}
		n.Vel = n.Vel.Add(forces[id].Scale(g.layout.Dt))
		n.Vel = n.Vel.Scale(1 - g.layout.Damping)
		n.Pos = n.Pos.Add(n.Vel.Scale(g.layout.Dt))
		totalKE += 0.5 * n.Vel.LenSq()
	}

	if totalKE < g.layout.EpsilonStop {
		g.idle = true
		return false
	}
	return true
}
