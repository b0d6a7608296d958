package vector

import (
	"container/heap"
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"

	"github.com/hyperjump/mnemo/internal/models"
	"go.uber.org/zap"
)

const maxLevelCap = 16

// HNSWConfig holds construction parameters for an HNSW index.
type HNSWConfig struct {
	Dimensions     int
	Metric         Metric
	M              int // max degree on upper layers; layer 0 allows 2*M
	EfConstruction int
	EfSearch       int   // default beam width when Search is called with ef <= 0
	Seed           int64 // level RNG seed; 0 picks a random seed
}

func (c *HNSWConfig) setDefaults() {
	if c.M == 0 {
		c.M = 16
	}
	if c.EfConstruction == 0 {
		c.EfConstruction = 200
	}
	if c.EfConstruction < c.M {
		c.EfConstruction = c.M
	}
	if c.EfSearch == 0 {
		c.EfSearch = 64
	}
}

// HNSW is a hierarchical navigable small-world graph index.
//
// Nodes live in an arena addressed by uint32 slot; neighbor lists hold slots, never pointers.
// Deletion is eager: a removed node is unlinked from every neighbor list that references it
// and the affected neighbors are re-linked before its slot is freed, so traversal never
// reaches a removed document. Every live node stays reachable on layer 0 from the entry point.
type HNSW struct {
	cfg    HNSWConfig
	dist   distanceFunc
	logger *zap.Logger

	mu sync.RWMutex
	g  *graph
}

type node struct {
	id      string
	vec     []float32
	level   int
	friends [][]uint32 // one neighbor list per layer 0..level
}

// graph is the mutable state of an HNSW index. Rebuild swaps it wholesale.
type graph struct {
	cfg       *HNSWConfig
	dist      distanceFunc
	levelMult float64
	rng       *rand.Rand

	nodes    []*node
	indeg    []int32 // layer-0 in-degree per slot
	orphans  []uint32
	free     []uint32
	slots    map[string]uint32
	entry    uint32
	hasEntry bool
	maxLevel int
}

// NewHNSW creates an empty HNSW index.
func NewHNSW(cfg HNSWConfig, opts ...Option) (*HNSW, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	if !cfg.Metric.valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMetric, cfg.Metric)
	}
	cfg.setDefaults()
	if cfg.M < 2 {
		return nil, fmt.Errorf("m must be at least 2, got %d", cfg.M)
	}
	o := applyOptions(opts)
	h := &HNSW{
		cfg:    cfg,
		dist:   cfg.Metric.distance(),
		logger: o.logger,
	}
	h.g = h.newGraph()
	return h, nil
}

func (h *HNSW) newGraph() *graph {
	seed := uint64(h.cfg.Seed)
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &graph{
		cfg:       &h.cfg,
		dist:      h.dist,
		levelMult: 1 / math.Log(float64(h.cfg.M)),
		rng:       rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		slots:     make(map[string]uint32),
	}
}

// Type returns the index type identifier.
func (h *HNSW) Type() string { return string(IndexTypeHNSW) }

// Metric returns the distance metric fixed at construction.
func (h *HNSW) Metric() Metric { return h.cfg.Metric }

// Dimensions returns the vector length accepted by the index.
func (h *HNSW) Dimensions() int { return h.cfg.Dimensions }

// Size returns the number of live nodes.
func (h *HNSW) Size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.g.slots)
}

// Close is a no-op; the graph is garbage collected.
func (h *HNSW) Close() error { return nil }

// Insert links vec into the graph under id. An existing id is unlinked first.
func (h *HNSW) Insert(ctx context.Context, id string, vec []float32) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	q, err := prepare(h.cfg.Metric, h.cfg.Dimensions, vec)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	defer recoverIndex(h.logger, "insert", &err)

	if slot, ok := h.g.slots[id]; ok {
		h.g.unlink(slot)
	}
	h.g.insert(id, q)
	return nil
}

// Remove eagerly unlinks id from the graph.
func (h *HNSW) Remove(ctx context.Context, id string) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	defer recoverIndex(h.logger, "remove", &err)

	slot, ok := h.g.slots[id]
	if !ok {
		return fmt.Errorf("%w: vector %s", models.ErrNotFound, id)
	}
	h.g.unlink(slot)
	return nil
}

// Search runs a layered beam search. Cancellation is checked between layer transitions.
func (h *HNSW) Search(ctx context.Context, query []float32, k, ef int) ([]Hit, error) {
	q, err := prepare(h.cfg.Metric, h.cfg.Dimensions, query)
	if err != nil {
		return nil, err
	}
	if k <= 0 {
		return []Hit{}, nil
	}
	if ef <= 0 {
		ef = h.cfg.EfSearch
	}
	if ef < k {
		ef = k
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	g := h.g
	if !g.hasEntry {
		return []Hit{}, nil
	}

	ep := candidate{slot: g.entry, dist: g.dist(q, g.nodes[g.entry].vec)}
	for l := g.maxLevel; l > 0; l-- {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ep = g.greedy(q, ep, l)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	found := g.searchLayer(q, []candidate{ep}, ef, 0)

	hits := make([]Hit, 0, len(found))
	for _, c := range found {
		hits = append(hits, Hit{ID: g.nodes[c.slot].id, Distance: c.dist})
	}
	sortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Rebuild builds a fresh graph from src and swaps it in. Concurrent searches keep using the
// old graph until the swap. Writes that land during the build are not reflected, so callers
// serialize Rebuild against Insert and Remove.
func (h *HNSW) Rebuild(ctx context.Context, src VectorSource) (err error) {
	defer recoverIndex(h.logger, "rebuild", &err)

	fresh := h.newGraph()
	n := 0
	err = src.ForEachVector(ctx, func(id string, vec []float32) error {
		if n%256 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		q, err := prepare(h.cfg.Metric, h.cfg.Dimensions, vec)
		if err != nil {
			return fmt.Errorf("document %s: %w", id, err)
		}
		if slot, ok := fresh.slots[id]; ok {
			fresh.unlink(slot)
		}
		fresh.insert(id, q)
		n++
		return nil
	})
	if err != nil {
		return fmt.Errorf("rebuild: %w", err)
	}

	h.mu.Lock()
	h.g = fresh
	h.mu.Unlock()
	h.logger.Info("vector index rebuilt", zap.Int("nodes", n))
	return nil
}

func (g *graph) maxDegree(layer int) int {
	if layer == 0 {
		return 2 * g.cfg.M
	}
	return g.cfg.M
}

func (g *graph) randomLevel() int {
	l := int(math.Floor(-math.Log(1-g.rng.Float64()) * g.levelMult))
	return min(l, maxLevelCap)
}

func (g *graph) alloc(n *node) uint32 {
	if k := len(g.free); k > 0 {
		slot := g.free[k-1]
		g.free = g.free[:k-1]
		g.nodes[slot] = n
		g.indeg[slot] = 0
		return slot
	}
	g.nodes = append(g.nodes, n)
	g.indeg = append(g.indeg, 0)
	return uint32(len(g.nodes) - 1)
}

// setFriends replaces the neighbor list of slot on layer l and keeps layer-0 in-degrees
// current. A live node whose in-degree drops to zero is queued for reconnect.
func (g *graph) setFriends(slot uint32, l int, list []uint32) {
	n := g.nodes[slot]
	if l == 0 {
		for _, nb := range n.friends[0] {
			g.indeg[nb]--
			if g.indeg[nb] == 0 && g.nodes[nb] != nil {
				g.orphans = append(g.orphans, nb)
			}
		}
		for _, nb := range list {
			g.indeg[nb]++
		}
	}
	n.friends[l] = list
}

// recountInDegrees rebuilds indeg from the neighbor lists.
func (g *graph) recountInDegrees() {
	g.indeg = make([]int32, len(g.nodes))
	for _, n := range g.nodes {
		if n == nil {
			continue
		}
		for _, nb := range n.friends[0] {
			g.indeg[nb]++
		}
	}
}

func (g *graph) insert(id string, q []float32) {
	level := g.randomLevel()
	n := &node{id: id, vec: q, level: level, friends: make([][]uint32, level+1)}
	slot := g.alloc(n)
	g.slots[id] = slot

	if !g.hasEntry {
		g.entry, g.hasEntry, g.maxLevel = slot, true, level
		return
	}

	ep := candidate{slot: g.entry, dist: g.dist(q, g.nodes[g.entry].vec)}
	for l := g.maxLevel; l > level; l-- {
		ep = g.greedy(q, ep, l)
	}

	entries := []candidate{ep}
	for l := min(level, g.maxLevel); l >= 0; l-- {
		found := g.searchLayer(q, entries, g.cfg.EfConstruction, l)
		selected := g.selectNeighbors(found, g.cfg.M)
		own := make([]uint32, 0, len(selected))
		for _, c := range selected {
			own = append(own, c.slot)
		}
		g.setFriends(slot, l, own)
		for _, c := range selected {
			g.addBackEdge(c.slot, slot, l)
		}
		entries = found
	}

	if level > g.maxLevel {
		if g.indeg[g.entry] == 0 {
			g.orphans = append(g.orphans, g.entry)
		}
		g.entry, g.maxLevel = slot, level
	}
	g.repairOrphans()
}

// repairOrphans runs reconnect when a re-prune left some live node without in-edges.
func (g *graph) repairOrphans() {
	pending := false
	for _, s := range g.orphans {
		if g.nodes[s] != nil && g.indeg[s] == 0 && !(g.hasEntry && s == g.entry) {
			pending = true
			break
		}
	}
	g.orphans = g.orphans[:0]
	if pending {
		g.reconnect()
		g.orphans = g.orphans[:0]
	}
}

// greedy walks layer l from ep, moving to any closer neighbor until none improves.
func (g *graph) greedy(q []float32, ep candidate, l int) candidate {
	for changed := true; changed; {
		changed = false
		for _, nb := range g.nodes[ep.slot].friends[l] {
			if d := g.dist(q, g.nodes[nb].vec); d < ep.dist {
				ep = candidate{slot: nb, dist: d}
				changed = true
			}
		}
	}
	return ep
}

// searchLayer is the ef-bounded beam search on a single layer. Results are ascending by distance.
func (g *graph) searchLayer(q []float32, entries []candidate, ef, l int) []candidate {
	visited := make(map[uint32]struct{}, ef*4)
	cands := make(nearestQueue, 0, ef)
	results := make(furthestQueue, 0, ef+1)
	for _, e := range entries {
		if _, seen := visited[e.slot]; seen {
			continue
		}
		visited[e.slot] = struct{}{}
		heap.Push(&cands, e)
		heap.Push(&results, e)
		if results.Len() > ef {
			heap.Pop(&results)
		}
	}

	for cands.Len() > 0 {
		c := heap.Pop(&cands).(candidate)
		if results.Len() >= ef && c.dist > results.worst() {
			break
		}
		n := g.nodes[c.slot]
		if l > n.level {
			continue
		}
		for _, nb := range n.friends[l] {
			if _, seen := visited[nb]; seen {
				continue
			}
			visited[nb] = struct{}{}
			d := g.dist(q, g.nodes[nb].vec)
			if results.Len() < ef || d < results.worst() {
				heap.Push(&cands, candidate{slot: nb, dist: d})
				heap.Push(&results, candidate{slot: nb, dist: d})
				if results.Len() > ef {
					heap.Pop(&results)
				}
			}
		}
	}

	out := make([]candidate, results.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(&results).(candidate)
	}
	return out
}

// selectNeighbors applies the connectivity-preserving heuristic: a candidate is kept only if it
// is closer to the base than to every neighbor already kept. Pruned candidates backfill up to m.
// cands must be sorted by ascending distance to the base.
func (g *graph) selectNeighbors(cands []candidate, m int) []candidate {
	if len(cands) <= m {
		return cands
	}
	selected := make([]candidate, 0, m)
	var pruned []candidate
	for _, c := range cands {
		if len(selected) >= m {
			break
		}
		keep := true
		cv := g.nodes[c.slot].vec
		for _, s := range selected {
			if g.dist(cv, g.nodes[s.slot].vec) < c.dist {
				keep = false
				break
			}
		}
		if keep {
			selected = append(selected, c)
		} else {
			pruned = append(pruned, c)
		}
	}
	for _, c := range pruned {
		if len(selected) >= m {
			break
		}
		selected = append(selected, c)
	}
	return selected
}

// shrink re-selects the neighbor list of slot at layer l down to the layer's max degree.
func (g *graph) shrink(slot uint32, l int) {
	g.relink(slot, l, g.nodes[slot].friends[l])
}

// relink replaces the neighbor list of slot at layer l with the heuristic selection from pool.
func (g *graph) relink(slot uint32, l int, pool []uint32) {
	base := g.nodes[slot]
	cands := make([]candidate, 0, len(pool))
	seen := make(map[uint32]struct{}, len(pool))
	for _, s := range pool {
		if s == slot {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		other := g.nodes[s]
		if other == nil || other.level < l {
			continue
		}
		seen[s] = struct{}{}
		cands = append(cands, candidate{slot: s, dist: g.dist(base.vec, other.vec)})
	}
	sortCandidates(cands)
	selected := g.selectNeighbors(cands, g.maxDegree(l))
	friends := make([]uint32, 0, len(selected))
	for _, c := range selected {
		friends = append(friends, c.slot)
	}
	g.setFriends(slot, l, friends)
}

// unlink removes the node at slot from every neighbor list, repairs the neighbors that lost an
// edge, frees the slot, and reassigns the entry point if needed.
func (g *graph) unlink(slot uint32) {
	dead := g.nodes[slot]

	type damaged struct {
		slot  uint32
		layer int
	}
	var repairs []damaged
	for s, n := range g.nodes {
		if n == nil || uint32(s) == slot {
			continue
		}
		top := min(n.level, dead.level)
		for l := 0; l <= top; l++ {
			list := n.friends[l]
			kept := list[:0]
			for _, nb := range list {
				if nb != slot {
					kept = append(kept, nb)
				}
			}
			if len(kept) != len(list) {
				n.friends[l] = kept
				repairs = append(repairs, damaged{slot: uint32(s), layer: l})
			}
		}
	}

	for _, nb := range dead.friends[0] {
		g.indeg[nb]--
	}
	g.nodes[slot] = nil
	g.indeg[slot] = 0
	g.free = append(g.free, slot)
	delete(g.slots, dead.id)

	for _, r := range repairs {
		pool := append(append([]uint32(nil), g.nodes[r.slot].friends[r.layer]...), dead.friends[r.layer]...)
		g.relink(r.slot, r.layer, pool)
	}
	for _, r := range repairs {
		for _, nb := range g.nodes[r.slot].friends[r.layer] {
			g.addBackEdge(nb, r.slot, r.layer)
		}
	}

	if g.hasEntry && g.entry == slot {
		g.reassignEntry()
	}
	g.reconnect()
	g.orphans = g.orphans[:0]
}

// addBackEdge links from -> to on layer l unless present, re-pruning from on overflow.
func (g *graph) addBackEdge(from, to uint32, l int) {
	n := g.nodes[from]
	for _, x := range n.friends[l] {
		if x == to {
			return
		}
	}
	g.setFriends(from, l, append(n.friends[l], to))
	if len(n.friends[l]) > g.maxDegree(l) {
		g.shrink(from, l)
	}
}

// reconnect makes every live node reachable on layer 0 from the entry point. Each orphan
// gets an in-edge from its nearest reachable node; if that node is full, its farthest
// other neighbor is dropped, which may orphan another node, so passes repeat.
func (g *graph) reconnect() {
	if !g.hasEntry {
		return
	}
	for pass := 0; pass < 8; pass++ {
		seen, reached := g.reachable()
		if reached == len(g.slots) {
			return
		}
		for s, n := range g.nodes {
			if n == nil || seen[s] {
				continue
			}
			g.attach(uint32(s))
			g.walk(uint32(s), seen)
		}
	}
}

// reachable reports which slots are reachable on layer 0 from the entry point, and how many.
func (g *graph) reachable() ([]bool, int) {
	seen := make([]bool, len(g.nodes))
	if !g.hasEntry {
		return seen, 0
	}
	return seen, g.walk(g.entry, seen)
}

// walk marks every slot reachable on layer 0 from from and returns how many it newly marked.
func (g *graph) walk(from uint32, seen []bool) int {
	if seen[from] {
		return 0
	}
	seen[from] = true
	marked := 1
	stack := []uint32{from}
	for len(stack) > 0 {
		s := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, nb := range g.nodes[s].friends[0] {
			if !seen[nb] {
				seen[nb] = true
				marked++
				stack = append(stack, nb)
			}
		}
	}
	return marked
}

// attach links the unreachable node at slot from the nearest node found by a layer-0 search
// from the entry point. Everything that search visits is reachable.
func (g *graph) attach(slot uint32) {
	u := g.nodes[slot]
	ep := candidate{slot: g.entry, dist: g.dist(u.vec, g.nodes[g.entry].vec)}
	found := g.searchLayer(u.vec, []candidate{ep}, g.cfg.EfConstruction, 0)
	if len(found) > 0 && found[0].slot == slot {
		found = found[1:]
	}
	if len(found) == 0 {
		return
	}
	c := found[0].slot
	g.pinEdge(c, slot)
	if len(u.friends[0]) < g.maxDegree(0) {
		g.addBackEdge(slot, c, 0)
	}
}

// pinEdge adds from -> to on layer 0 and keeps it: on overflow the farthest other neighbor
// of from is dropped instead.
func (g *graph) pinEdge(from, to uint32) {
	n := g.nodes[from]
	list := make([]uint32, 0, len(n.friends[0])+1)
	worst, worstDist := -1, float32(0)
	for i, nb := range n.friends[0] {
		if nb == to {
			return
		}
		list = append(list, nb)
		if d := g.dist(n.vec, g.nodes[nb].vec); worst < 0 || d > worstDist {
			worst, worstDist = i, d
		}
	}
	if len(list) >= g.maxDegree(0) {
		list = append(list[:worst], list[worst+1:]...)
	}
	g.setFriends(from, 0, append(list, to))
}

// reassignEntry picks the highest-level surviving node, lowest slot on ties.
func (g *graph) reassignEntry() {
	g.hasEntry = false
	g.maxLevel = 0
	for s, n := range g.nodes {
		if n == nil {
			continue
		}
		if !g.hasEntry || n.level > g.maxLevel {
			g.entry, g.hasEntry, g.maxLevel = uint32(s), true, n.level
		}
	}
}
