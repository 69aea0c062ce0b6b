// Package topology infers a live network graph from the telemetry stream
// and lays it out with a deterministic force-directed simulator (spec
// §4.9). It has no teacher analog in 99souls-ariadne; its composition
// style (small struct, mutex-guarded state, explicit Tick/Observe entry
// points rather than an internal goroutine) follows the same discipline
// engine/bus/ringcache.go uses for its own mutex-guarded cache state.
package topology

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/99souls/zensight/engine/telemetry"
)

// Node is one inferred host, keyed by the source/IP that identified it.
type Node struct {
	ID     string
	Pos    Vec2
	Vel    Vec2
	Pinned bool
}

// Edge is a directed, reference-counted link between two nodes.
type Edge struct {
	Src, Dst string
	Weight   float64
	RefCount int
	LastSeen time.Time
}

type edgeKey struct{ Src, Dst string }

// Config tunes graph inference behavior independent of layout.
type Config struct {
	EdgeTTL time.Duration // default 120s
}

func (c *Config) applyDefaults() {
	if c.EdgeTTL <= 0 {
		c.EdgeTTL = 120 * time.Second
	}
}

// Graph holds the inferred nodes and edges plus their layout state. All
// access goes through its exported methods, which take a single mutex —
// there is no background task; callers drive Observe/PurgeExpired/Tick on
// their own schedule (spec §5: "single-task" state ownership).
type Graph struct {
	cfg Config

	mu      sync.Mutex
	nodes   map[string]*Node
	edges   map[edgeKey]*Edge
	idle    bool
	layout  LayoutConfig
}

// New builds an empty Graph.
func New(cfg Config, layout LayoutConfig) *Graph {
	cfg.applyDefaults()
	layout.applyDefaults()
	return &Graph{
		cfg:    cfg,
		nodes:  make(map[string]*Node),
		edges:  make(map[edgeKey]*Edge),
		layout: layout,
	}
}

// Observe folds one telemetry point into the graph: NetFlow points yield a
// directed src_ip->dst_ip edge weighted by the observed byte counter (spec
// §4.9a); any point carrying a "peer_ip" or "peer_mac" label yields a
// candidate edge from its source to that peer (spec §4.9b — SNMP interface
// walks populate these labels when peer discovery data is available).
func (g *Graph) Observe(point *telemetry.TelemetryPoint, now time.Time) {
	if point == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if point.Protocol == telemetry.ProtocolNetflow {
		src, dst, ok := splitNetflowMetric(point.Metric)
		if !ok {
			return
		}
		g.ensureNodeLocked(src)
		g.ensureNodeLocked(dst)
		weight := float64(point.Value.Counter)
		g.upsertEdgeLocked(src, dst, weight, now)
		return
	}

	peer := point.Labels["peer_ip"]
	if peer == "" {
		peer = point.Labels["peer_mac"]
	}
	if peer == "" {
		return
	}
	g.ensureNodeLocked(point.Source)
	g.ensureNodeLocked(peer)
	g.upsertEdgeLocked(point.Source, peer, 1, now)
}

func splitNetflowMetric(metric string) (src, dst string, ok bool) {
	parts := strings.SplitN(metric, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func (g *Graph) ensureNodeLocked(id string) *Node {
	if n, ok := g.nodes[id]; ok {
		return n
	}
	n := &Node{ID: id, Pos: seededPosition(id, g.layout.CenterX, g.layout.CenterY, g.layout.SeedRadius)}
	g.nodes[id] = n
	g.idle = false
	return n
}

func (g *Graph) upsertEdgeLocked(src, dst string, weight float64, now time.Time) {
	key := edgeKey{Src: src, Dst: dst}
	e, ok := g.edges[key]
	if !ok {
		e = &Edge{Src: src, Dst: dst}
		g.edges[key] = e
	}
	e.RefCount++
	e.Weight += weight
	e.LastSeen = now
	g.idle = false
}

// PurgeExpired removes every edge whose last supporting observation is
// older than EdgeTTL (spec §4.9a).
func (g *Graph) PurgeExpired(now time.Time) (removed int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for key, e := range g.edges {
		if now.Sub(e.LastSeen) > g.cfg.EdgeTTL {
			delete(g.edges, key)
			removed++
		}
	}
	if removed > 0 {
		g.idle = false
	}
	return removed
}

// SetPinned marks a user-pinned node, exempting it from force application
// while it remains a force source for other nodes (spec §4.9 layout).
func (g *Graph) SetPinned(id string, pinned bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if n, ok := g.nodes[id]; ok {
		n.Pinned = pinned
		g.idle = false
	}
}

// NodeSnapshot is a read-only copy of one node's current state.
type NodeSnapshot struct {
	ID     string
	X, Y   float64
	Pinned bool
}

// EdgeSnapshot is a read-only copy of one edge's current state.
type EdgeSnapshot struct {
	Src, Dst string
	Weight   float64
	RefCount int
}

// Snapshot returns every node and edge, sorted by ID for reproducible
// exposition/serialization.
func (g *Graph) Snapshot() ([]NodeSnapshot, []EdgeSnapshot) {
	g.mu.Lock()
	defer g.mu.Unlock()

	nodes := make([]NodeSnapshot, 0, len(g.nodes))
	for _, n := range g.nodes {
		nodes = append(nodes, NodeSnapshot{ID: n.ID, X: n.Pos.X, Y: n.Pos.Y, Pinned: n.Pinned})
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })

	edges := make([]EdgeSnapshot, 0, len(g.edges))
	for _, e := range g.edges {
		edges = append(edges, EdgeSnapshot{Src: e.Src, Dst: e.Dst, Weight: e.Weight, RefCount: e.RefCount})
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Src != edges[j].Src {
			return edges[i].Src < edges[j].Src
		}
		return edges[i].Dst < edges[j].Dst
	})
	return nodes, edges
}

// Idle reports whether the layout simulator has converged and is not
// re-run until the next topology change (spec §4.9 convergence test).
func (g *Graph) Idle() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.idle
}
