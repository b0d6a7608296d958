package vector

import "sort"

// candidate is a node slot paired with its distance to the current query.
type candidate struct {
	slot uint32
	dist float32
}

// nearestQueue is a min-heap on distance; Pop yields the closest candidate.
type nearestQueue []candidate

func (q nearestQueue) Len() int           { return len(q) }
func (q nearestQueue) Less(i, j int) bool { return q[i].dist < q[j].dist }
func (q nearestQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *nearestQueue) Push(x any)        { *q = append(*q, x.(candidate)) }
func (q *nearestQueue) Pop() any {
	old := *q
	n := len(old)
	c := old[n-1]
	*q = old[:n-1]
	return c
}

// furthestQueue is a max-heap on distance; the root is the worst kept result.
type furthestQueue []candidate

func (q furthestQueue) Len() int           { return len(q) }
func (q furthestQueue) Less(i, j int) bool { return q[i].dist > q[j].dist }
func (q furthestQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *furthestQueue) Push(x any)        { *q = append(*q, x.(candidate)) }
func (q *furthestQueue) Pop() any {
	old := *q
	n := len(old)
	c := old[n-1]
	*q = old[:n-1]
	return c
}

func (q furthestQueue) worst() float32 { return q[0].dist }

// sortCandidates orders by ascending distance, then slot for stable output.
func sortCandidates(cs []candidate) {
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].dist != cs[j].dist {
			return cs[i].dist < cs[j].dist
		}
		return cs[i].slot < cs[j].slot
	})
}

// sortHits orders by ascending distance, ties by ID ascending.
func sortHits(hits []Hit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].ID < hits[j].ID
	})
}
