package traversal

import (
	"container/heap"
	"context"
	"math"

	"github.com/warpgraph/warp/pkg/neighbor"
	"github.com/warpgraph/warp/pkg/warperr"
)

// EdgeWeightFunc returns the cost of traversing one neighbor edge.
type EdgeWeightFunc func(from string, n neighbor.Neighbor) float64

// NodeWeightFunc returns a node's intrinsic cost, added once on entry.
type NodeWeightFunc func(nodeID string) float64

// HeuristicFunc estimates remaining cost from node to goal; for A* to
// return optimal paths it must never overestimate the true cost.
type HeuristicFunc func(nodeID string) float64

// pqItem is one entry in the priority queue: ordered by Cost, then
// lexicographically by NodeID on ties so output is deterministic
// regardless of insertion order.
type pqItem struct {
	nodeID string
	cost   float64
	index  int
}

type priorityQueue []*pqItem

func (pq priorityQueue) Len() int { return len(pq) }
func (pq priorityQueue) Less(i, j int) bool {
	if pq[i].cost != pq[j].cost {
		return pq[i].cost < pq[j].cost
	}
	return pq[i].nodeID < pq[j].nodeID
}
func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}
func (pq *priorityQueue) Push(x any) {
	item := x.(*pqItem)
	item.index = len(*pq)
	*pq = append(*pq, item)
}
func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*pq = old[:n-1]
	return item
}

// DijkstraOptions configures a weighted shortest-path search. Supplying
// both EdgeWeight and NodeWeight is rejected with CodeWeightFnConflict —
// callers combine the two costs into a single EdgeWeight function instead
// of relying on the engine to compose them.
type DijkstraOptions struct {
	Direction  neighbor.Direction
	Labels     []string
	EdgeWeight EdgeWeightFunc
	NodeWeight NodeWeightFunc
}

func (o DijkstraOptions) toOptions() Options {
	return Options{Direction: o.Direction, Labels: o.Labels}
}

func (o DijkstraOptions) edgeCost(from string, n neighbor.Neighbor) float64 {
	if o.EdgeWeight != nil {
		return o.EdgeWeight(from, n)
	}
	return 1
}

func validateWeightFns(edge EdgeWeightFunc, node NodeWeightFunc) error {
	if edge != nil && node != nil {
		return warperr.New(warperr.CodeWeightFnConflict, "supply either an edge weight function or a node weight function, not both")
	}
	return nil
}

// Dijkstra finds the minimum-cost path from start to goal. Ties in total
// cost are broken by preferring the path whose predecessor chain is
// lexicographically smaller, which falls out naturally from the
// priority queue's (cost, nodeId) tie-break.
func Dijkstra(ctx context.Context, provider neighbor.Provider, start, goal string, dopts DijkstraOptions) (*PathResult, error) {
	if err := validateWeightFns(dopts.EdgeWeight, dopts.NodeWeight); err != nil {
		return nil, err
	}
	if err := validateStart(ctx, provider, start); err != nil {
		return nil, err
	}
	opts := dopts.toOptions()
	if start == goal {
		return &PathResult{Found: true, Path: []string{start}, Length: 0, Cost: 0}, nil
	}

	dist := map[string]float64{start: 0}
	pred := map[string]string{}
	visited := map[string]bool{}
	cadence := opts.cancelCadence()
	visitedCount := 0

	pq := &priorityQueue{}
	heap.Init(pq)
	heap.Push(pq, &pqItem{nodeID: start, cost: 0})

	for pq.Len() > 0 {
		item := heap.Pop(pq).(*pqItem)
		node := item.nodeID
		if visited[node] {
			continue
		}
		visited[node] = true
		visitedCount++
		if err := checkCancel(ctx, visitedCount, cadence); err != nil {
			return nil, err
		}
		if node == goal {
			return &PathResult{Found: true, Path: reconstructPath(pred, start, goal), Length: pathLength(pred, start, goal), Cost: dist[node]}, nil
		}

		neighbors, err := provider.GetNeighbors(ctx, node, opts.Direction, neighborOptions(opts))
		if err != nil {
			return nil, err
		}
		base := dist[node]
		if dopts.NodeWeight != nil {
			base += dopts.NodeWeight(node)
		}
		for _, n := range neighbors {
			if visited[n.NodeID] {
				continue
			}
			candidate := base + dopts.edgeCost(node, n)
			if existing, ok := dist[n.NodeID]; !ok || candidate < existing || (candidate == existing && node < pred[n.NodeID]) {
				dist[n.NodeID] = candidate
				pred[n.NodeID] = node
				heap.Push(pq, &pqItem{nodeID: n.NodeID, cost: candidate})
			}
		}
	}
	return &PathResult{Found: false, Path: []string{}, Length: -1, Cost: math.Inf(1)}, nil
}

// AStarOptions is DijkstraOptions plus an admissible heuristic.
type AStarOptions struct {
	DijkstraOptions
	Heuristic HeuristicFunc
}

// AStar runs A* search: identical to Dijkstra but orders the frontier by
// g-score plus heuristic, falling back to plain Dijkstra when Heuristic
// is nil.
func AStar(ctx context.Context, provider neighbor.Provider, start, goal string, aopts AStarOptions) (*PathResult, error) {
	if err := validateWeightFns(aopts.EdgeWeight, aopts.NodeWeight); err != nil {
		return nil, err
	}
	if err := validateStart(ctx, provider, start); err != nil {
		return nil, err
	}
	heuristic := aopts.Heuristic
	if heuristic == nil {
		heuristic = func(string) float64 { return 0 }
	}
	opts := aopts.toOptions()
	if start == goal {
		return &PathResult{Found: true, Path: []string{start}, Length: 0, Cost: 0}, nil
	}

	gScore := map[string]float64{start: 0}
	pred := map[string]string{}
	closed := map[string]bool{}
	cadence := opts.cancelCadence()
	visitedCount := 0

	pq := &priorityQueue{}
	heap.Init(pq)
	heap.Push(pq, &pqItem{nodeID: start, cost: heuristic(start)})

	for pq.Len() > 0 {
		item := heap.Pop(pq).(*pqItem)
		node := item.nodeID
		if closed[node] {
			continue
		}
		closed[node] = true
		visitedCount++
		if err := checkCancel(ctx, visitedCount, cadence); err != nil {
			return nil, err
		}
		if node == goal {
			return &PathResult{Found: true, Path: reconstructPath(pred, start, goal), Length: pathLength(pred, start, goal), Cost: gScore[node]}, nil
		}

		neighbors, err := provider.GetNeighbors(ctx, node, opts.Direction, neighborOptions(opts))
		if err != nil {
			return nil, err
		}
		base := gScore[node]
		if aopts.NodeWeight != nil {
			base += aopts.NodeWeight(node)
		}
		for _, n := range neighbors {
			if closed[n.NodeID] {
				continue
			}
			candidate := base + aopts.edgeCost(node, n)
			if existing, ok := gScore[n.NodeID]; !ok || candidate < existing || (candidate == existing && node < pred[n.NodeID]) {
				gScore[n.NodeID] = candidate
				pred[n.NodeID] = node
				heap.Push(pq, &pqItem{nodeID: n.NodeID, cost: candidate + heuristic(n.NodeID)})
			}
		}
	}
	return &PathResult{Found: false, Path: []string{}, Length: -1, Cost: math.Inf(1)}, nil
}

// BidirectionalAStar searches from start (forward, along aopts.Direction)
// and goal (backward, along the reverse direction), expanding one node
// from each side in turn. Both frontiers are ordered by g-score alone:
// aopts.Heuristic is not consulted, so the search behaves as
// bidirectional Dijkstra. It stops once the best complete path found costs
// no more than the sum of the two frontiers' smallest queued costs, at
// which point that path is optimal.
func BidirectionalAStar(ctx context.Context, provider neighbor.Provider, start, goal string, aopts AStarOptions) (*PathResult, error) {
	if err := validateWeightFns(aopts.EdgeWeight, aopts.NodeWeight); err != nil {
		return nil, err
	}
	if err := validateStart(ctx, provider, start); err != nil {
		return nil, err
	}
	if err := validateStart(ctx, provider, goal); err != nil {
		return nil, err
	}
	if start == goal {
		return &PathResult{Found: true, Path: []string{start}, Length: 0, Cost: 0}, nil
	}

	fwdDir := aopts.Direction
	bwdDir := reverseDirection(fwdDir)

	fwd := newSearchFrontier(start)
	bwd := newSearchFrontier(goal)

	cadence := aopts.toOptions().cancelCadence()
	visitedCount := 0

	best := math.Inf(1)
	var bestMeet string

	for fwd.pq.Len() > 0 && bwd.pq.Len() > 0 {
		if best <= peekMin(fwd.pq)+peekMin(bwd.pq) {
			break
		}

		if err := expandFrontier(ctx, provider, fwd, fwdDir, false, aopts, &visitedCount, cadence); err != nil {
			return nil, err
		}
		if cost, meet, ok := tryMeet(fwd, bwd); ok && cost < best {
			best, bestMeet = cost, meet
		}

		if bwd.pq.Len() == 0 {
			continue
		}
		if err := expandFrontier(ctx, provider, bwd, bwdDir, true, aopts, &visitedCount, cadence); err != nil {
			return nil, err
		}
		if cost, meet, ok := tryMeet(fwd, bwd); ok && cost < best {
			best, bestMeet = cost, meet
		}
	}

	if bestMeet == "" {
		return &PathResult{Found: false, Path: []string{}, Length: -1, Cost: math.Inf(1)}, nil
	}

	fullPath := joinPaths(fwd, bwd, bestMeet)
	return &PathResult{Found: true, Path: fullPath, Length: len(fullPath) - 1, Cost: best}, nil
}

func reverseDirection(d neighbor.Direction) neighbor.Direction {
	switch d {
	case neighbor.DirOut:
		return neighbor.DirIn
	case neighbor.DirIn:
		return neighbor.DirOut
	default:
		return neighbor.DirBoth
	}
}

type searchFrontier struct {
	root   string
	pq     *priorityQueue
	gScore map[string]float64
	pred   map[string]string
	closed map[string]bool
}

func newSearchFrontier(root string) *searchFrontier {
	pq := &priorityQueue{}
	heap.Init(pq)
	heap.Push(pq, &pqItem{nodeID: root, cost: 0})
	return &searchFrontier{
		root:   root,
		pq:     pq,
		gScore: map[string]float64{root: 0},
		pred:   map[string]string{},
		closed: map[string]bool{},
	}
}

func peekMin(pq *priorityQueue) float64 {
	if pq.Len() == 0 {
		return math.Inf(1)
	}
	return (*pq)[0].cost
}

func expandFrontier(ctx context.Context, provider neighbor.Provider, f *searchFrontier, dir neighbor.Direction, reversed bool, aopts AStarOptions, visitedCount *int, cadence int) error {
	if f.pq.Len() == 0 {
		return nil
	}
	item := heap.Pop(f.pq).(*pqItem)
	node := item.nodeID
	if f.closed[node] {
		return nil
	}
	f.closed[node] = true
	*visitedCount++
	if err := checkCancel(ctx, *visitedCount, cadence); err != nil {
		return err
	}

	neighbors, err := provider.GetNeighbors(ctx, node, dir, neighbor.Options{Labels: aopts.Labels})
	if err != nil {
		return err
	}
	base := f.gScore[node]
	if aopts.NodeWeight != nil {
		base += aopts.NodeWeight(node)
	}
	for _, n := range neighbors {
		if f.closed[n.NodeID] {
			continue
		}
		var cost float64
		if reversed {
			// n.NodeID is the edge source and node is the edge target when
			// walking DirIn neighbors for the backward frontier — evaluate
			// the weight function in the original (from, to) orientation,
			// not the direction the search is walking in.
			cost = aopts.edgeCost(n.NodeID, neighbor.Neighbor{NodeID: node, Label: n.Label})
		} else {
			cost = aopts.edgeCost(node, n)
		}
		candidate := base + cost
		if existing, ok := f.gScore[n.NodeID]; !ok || candidate < existing || (candidate == existing && node < f.pred[n.NodeID]) {
			f.gScore[n.NodeID] = candidate
			f.pred[n.NodeID] = node
			heap.Push(f.pq, &pqItem{nodeID: n.NodeID, cost: candidate})
		}
	}
	return nil
}

func tryMeet(fwd, bwd *searchFrontier) (float64, string, bool) {
	var best float64 = math.Inf(1)
	var bestNode string
	for node, fg := range fwd.gScore {
		if !fwd.closed[node] {
			continue
		}
		bg, ok := bwd.gScore[node]
		if !ok || !bwd.closed[node] {
			continue
		}
		total := fg + bg
		if total < best || (total == best && node < bestNode) {
			best, bestNode = total, node
		}
	}
	if bestNode == "" {
		return 0, "", false
	}
	return best, bestNode, true
}

func joinPaths(fwd, bwd *searchFrontier, meet string) []string {
	forwardHalf := reconstructPath(fwd.pred, fwd.root, meet)
	backwardHalf := reconstructPath(bwd.pred, bwd.root, meet)
	// backwardHalf runs root(goal) -> meet; reverse it and drop the
	// duplicated meet node before appending to forwardHalf.
	reversed := make([]string, len(backwardHalf))
	for i, n := range backwardHalf {
		reversed[len(backwardHalf)-1-i] = n
	}
	return append(forwardHalf, reversed[1:]...)
}
