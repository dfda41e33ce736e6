package traversal

import (
	"container/heap"
	"context"

	"github.com/warpgraph/warp/pkg/neighbor"
	"github.com/warpgraph/warp/pkg/warperr"
)

// readyQueue is a min-heap of node ids ordered lexicographically, used by
// Kahn's algorithm to pick the next zero-indegree node deterministically
// in O(log n) per pop instead of re-scanning the frontier.
type readyQueue []string

func (q readyQueue) Len() int            { return len(q) }
func (q readyQueue) Less(i, j int) bool   { return q[i] < q[j] }
func (q readyQueue) Swap(i, j int)        { q[i], q[j] = q[j], q[i] }
func (q *readyQueue) Push(x any)          { *q = append(*q, x.(string)) }
func (q *readyQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// TopoSortResult is a topological order over a node set, or the cycle
// evidence when the node set is not a DAG.
type TopoSortResult struct {
	Order    []string
	HasCycle bool
	// Witness is the back edge proving the cycle, set whenever HasCycle
	// is true (both with and without ThrowOnCycle).
	Witness *CycleWitness
}

// CycleWitness is a single edge lying inside a detected cycle: both From
// and To remained stuck at indegree > 0 when Kahn's algorithm ran dry.
type CycleWitness struct {
	From string
	To   string
}

// TopoSortOptions is Options plus the cycle-handling toggle TopoSort
// needs: ThrowOnCycle selects between failing the call outright or
// returning a partial order the caller inspects via HasCycle.
type TopoSortOptions struct {
	Options
	// ThrowOnCycle, if true, makes TopoSort return CodeGraphHasCycles
	// (carrying the witness as From/To context) instead of a
	// {Order, HasCycle: true, Witness} result with a nil error.
	ThrowOnCycle bool
}

// TopoSort runs Kahn's algorithm over the reachable set from start (out
// direction), breaking ties between simultaneously-ready nodes by
// nodeId. When the reachable subgraph is not acyclic, the result carries
// HasCycle and a back-edge Witness; ThrowOnCycle additionally turns that
// into a CodeGraphHasCycles error.
func TopoSort(ctx context.Context, provider neighbor.Provider, start string, opts TopoSortOptions) (*TopoSortResult, error) {
	if err := validateStart(ctx, provider, start); err != nil {
		return nil, err
	}
	outOpts := opts.Options
	outOpts.Direction = neighbor.DirOut

	nodes, err := BFS(ctx, provider, start, outOpts)
	if err != nil {
		return nil, err
	}
	nodeSet := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		nodeSet[n] = true
	}

	indegree := make(map[string]int, len(nodes))
	adjacency := make(map[string][]string, len(nodes))
	for _, n := range nodes {
		indegree[n] = 0
	}
	cadence := opts.cancelCadence()
	visitedCount := 0
	for _, n := range nodes {
		visitedCount++
		if err := checkCancel(ctx, visitedCount, cadence); err != nil {
			return nil, err
		}
		neighbors, err := provider.GetNeighbors(ctx, n, neighbor.DirOut, neighborOptions(opts.Options))
		if err != nil {
			return nil, err
		}
		for _, nb := range neighbors {
			if !nodeSet[nb.NodeID] {
				continue
			}
			adjacency[n] = append(adjacency[n], nb.NodeID)
			indegree[nb.NodeID]++
		}
	}

	ready := &readyQueue{}
	heap.Init(ready)
	for _, n := range nodes {
		if indegree[n] == 0 {
			heap.Push(ready, n)
		}
	}

	order := make([]string, 0, len(nodes))
	for ready.Len() > 0 {
		node := heap.Pop(ready).(string)
		order = append(order, node)
		for _, nb := range adjacency[node] {
			indegree[nb]--
			if indegree[nb] == 0 {
				heap.Push(ready, nb)
			}
		}
	}

	if len(order) != len(nodes) {
		witness := findCycleWitness(nodes, adjacency, order)
		result := &TopoSortResult{Order: order, HasCycle: true, Witness: witness}
		if !opts.ThrowOnCycle {
			return result, nil
		}
		err := warperr.New(warperr.CodeGraphHasCycles, "reachable subgraph contains a cycle").With("start", start)
		if witness != nil {
			err = err.With("from", witness.From).With("to", witness.To)
		}
		return result, err
	}
	return &TopoSortResult{Order: order}, nil
}

// findCycleWitness locates one edge entirely within the nodes Kahn's
// algorithm never reached (every such node still has indegree > 0 once
// the ready queue runs dry, which is only possible inside a cycle).
// Iterates nodes in their BFS-discovery order so the witness is
// deterministic regardless of map iteration.
func findCycleWitness(nodes []string, adjacency map[string][]string, order []string) *CycleWitness {
	stuck := make(map[string]bool, len(nodes)-len(order))
	inOrder := make(map[string]bool, len(order))
	for _, n := range order {
		inOrder[n] = true
	}
	for _, n := range nodes {
		if !inOrder[n] {
			stuck[n] = true
		}
	}
	for _, n := range nodes {
		if !stuck[n] {
			continue
		}
		for _, nb := range adjacency[n] {
			if stuck[nb] {
				return &CycleWitness{From: n, To: nb}
			}
		}
	}
	return nil
}

// WeightedLongestPathResult is the longest weighted path ending at each
// node reachable from start, found by relaxing edges in topological
// order (a DAG-only, O(V+E) alternative to Bellman-Ford).
type WeightedLongestPathResult struct {
	Order       []string
	Distance    map[string]float64
	Predecessor map[string]string
}

// WeightedLongestPath computes the longest path from start to every
// reachable node under edgeWeight. Requires the reachable subgraph to be
// acyclic; returns CodeGraphHasCycles otherwise.
func WeightedLongestPath(ctx context.Context, provider neighbor.Provider, start string, edgeWeight EdgeWeightFunc, opts Options) (*WeightedLongestPathResult, error) {
	topo, err := TopoSort(ctx, provider, start, TopoSortOptions{Options: opts, ThrowOnCycle: true})
	if err != nil {
		return nil, err
	}

	dist := map[string]float64{start: 0}
	pred := map[string]string{}
	outOpts := opts
	outOpts.Direction = neighbor.DirOut

	for _, node := range topo.Order {
		if _, reached := dist[node]; !reached {
			continue
		}
		neighbors, err := provider.GetNeighbors(ctx, node, neighbor.DirOut, neighborOptions(opts))
		if err != nil {
			return nil, err
		}
		for _, n := range neighbors {
			w := 1.0
			if edgeWeight != nil {
				w = edgeWeight(node, n)
			}
			candidate := dist[node] + w
			if existing, ok := dist[n.NodeID]; !ok || candidate > existing || (candidate == existing && node < pred[n.NodeID]) {
				dist[n.NodeID] = candidate
				pred[n.NodeID] = node
			}
		}
	}
	return &WeightedLongestPathResult{Order: topo.Order, Distance: dist, Predecessor: pred}, nil
}

// PathTo reconstructs the longest path from start to target using
// result's predecessor map; ok is false if target was unreached.
func (r *WeightedLongestPathResult) PathTo(start, target string) (path []string, ok bool) {
	if _, reached := r.Distance[target]; !reached {
		return nil, false
	}
	return reconstructPath(r.Predecessor, start, target), true
}
