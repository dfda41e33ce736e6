// Package traversal implements deterministic graph algorithms — BFS, DFS,
// shortest path, Dijkstra, A*, bidirectional A*, topological sort, and
// weighted longest path — over a neighbor.Provider. Every algorithm's
// output is a pure function of (provider, start, options): tie-breaks are
// always lexicographic on nodeId, never dependent on map iteration order
// or wall-clock.
package traversal

import (
	"context"
	"sort"

	"github.com/warpgraph/warp/pkg/neighbor"
	"github.com/warpgraph/warp/pkg/warperr"
)

// Options bounds a traversal: MaxDepth (0 = unlimited) stops exploring
// neighbors beyond that depth; MaxNodes (0 = unlimited) stops once that
// many nodes have been visited; CancelCheckEvery (default 1000) is how
// often the cancellation token is polled.
type Options struct {
	Direction        neighbor.Direction
	Labels           []string
	MaxDepth         int
	MaxNodes         int
	CancelCheckEvery int
}

func (o Options) cancelCadence() int {
	if o.CancelCheckEvery > 0 {
		return o.CancelCheckEvery
	}
	return 1000
}

func checkCancel(ctx context.Context, visited int, cadence int) error {
	if visited%cadence != 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return warperr.Wrap(warperr.CodeCancelled, "traversal cancelled", err)
	}
	return nil
}

func validateStart(ctx context.Context, provider neighbor.Provider, start string) error {
	has, err := provider.HasNode(ctx, start)
	if err != nil {
		return err
	}
	if !has {
		return warperr.New(warperr.CodeInvalidStart, "start node not found").With("start", start)
	}
	return nil
}

func neighborOptions(o Options) neighbor.Options { return neighbor.Options{Labels: o.Labels} }

// BFS returns start's reachable nodes in level order. At each level,
// unprocessed frontier nodes are sorted by nodeId; newly discovered
// neighbors are deduplicated before entering the next level.
func BFS(ctx context.Context, provider neighbor.Provider, start string, opts Options) ([]string, error) {
	if err := validateStart(ctx, provider, start); err != nil {
		return nil, err
	}
	visited := map[string]bool{start: true}
	order := []string{start}
	frontier := []string{start}
	depth := 0
	cadence := opts.cancelCadence()

	for len(frontier) > 0 {
		if opts.MaxDepth > 0 && depth >= opts.MaxDepth {
			break
		}
		if opts.MaxNodes > 0 && len(order) >= opts.MaxNodes {
			break
		}
		sort.Strings(frontier)

		next := map[string]bool{}
		for _, node := range frontier {
			if err := checkCancel(ctx, len(order), cadence); err != nil {
				return nil, err
			}
			if opts.MaxNodes > 0 && len(order) >= opts.MaxNodes {
				break
			}
			neighbors, err := provider.GetNeighbors(ctx, node, opts.Direction, neighborOptions(opts))
			if err != nil {
				return nil, err
			}
			for _, n := range neighbors {
				if visited[n.NodeID] || next[n.NodeID] {
					continue
				}
				next[n.NodeID] = true
			}
		}

		nextSlice := make([]string, 0, len(next))
		for id := range next {
			nextSlice = append(nextSlice, id)
		}
		sort.Strings(nextSlice)

		for _, id := range nextSlice {
			if opts.MaxNodes > 0 && len(order) >= opts.MaxNodes {
				break
			}
			visited[id] = true
			order = append(order, id)
		}
		frontier = nextSlice
		depth++
	}
	return order, nil
}

// DFS returns start's reachable nodes in pre-order, using an explicit
// stack so children are visited leftmost-first despite being pushed in
// reverse sorted order.
func DFS(ctx context.Context, provider neighbor.Provider, start string, opts Options) ([]string, error) {
	if err := validateStart(ctx, provider, start); err != nil {
		return nil, err
	}
	type frame struct {
		node  string
		depth int
	}
	visited := map[string]bool{}
	order := []string{}
	stack := []frame{{node: start, depth: 0}}
	cadence := opts.cancelCadence()

	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[top.node] {
			continue
		}
		if opts.MaxNodes > 0 && len(order) >= opts.MaxNodes {
			break
		}
		if err := checkCancel(ctx, len(order), cadence); err != nil {
			return nil, err
		}
		visited[top.node] = true
		order = append(order, top.node)

		if opts.MaxDepth > 0 && top.depth >= opts.MaxDepth {
			continue
		}
		neighbors, err := provider.GetNeighbors(ctx, top.node, opts.Direction, neighborOptions(opts))
		if err != nil {
			return nil, err
		}
		children := make([]string, 0, len(neighbors))
		seen := map[string]bool{}
		for _, n := range neighbors {
			if visited[n.NodeID] || seen[n.NodeID] {
				continue
			}
			seen[n.NodeID] = true
			children = append(children, n.NodeID)
		}
		sort.Sort(sort.Reverse(sort.StringSlice(children)))
		for _, c := range children {
			stack = append(stack, frame{node: c, depth: top.depth + 1})
		}
	}
	return order, nil
}

// PathResult is the outcome of an unweighted or weighted path search.
type PathResult struct {
	Found  bool
	Path   []string
	Length int
	Cost   float64
}

// ShortestPath runs level BFS with predecessor recording.
func ShortestPath(ctx context.Context, provider neighbor.Provider, start, goal string, opts Options) (*PathResult, error) {
	if err := validateStart(ctx, provider, start); err != nil {
		return nil, err
	}
	if start == goal {
		return &PathResult{Found: true, Path: []string{start}, Length: 0}, nil
	}

	visited := map[string]bool{start: true}
	pred := map[string]string{}
	frontier := []string{start}
	cadence := opts.cancelCadence()
	visitedCount := 1

	for len(frontier) > 0 {
		sort.Strings(frontier)
		var next []string
		for _, node := range frontier {
			if err := checkCancel(ctx, visitedCount, cadence); err != nil {
				return nil, err
			}
			neighbors, err := provider.GetNeighbors(ctx, node, opts.Direction, neighborOptions(opts))
			if err != nil {
				return nil, err
			}
			for _, n := range neighbors {
				if visited[n.NodeID] {
					continue
				}
				visited[n.NodeID] = true
				visitedCount++
				pred[n.NodeID] = node
				if n.NodeID == goal {
					return &PathResult{Found: true, Path: reconstructPath(pred, start, goal), Length: pathLength(pred, start, goal)}, nil
				}
				next = append(next, n.NodeID)
			}
		}
		frontier = next
	}
	return &PathResult{Found: false, Path: []string{}, Length: -1}, nil
}

func reconstructPath(pred map[string]string, start, goal string) []string {
	path := []string{goal}
	for cur := goal; cur != start; {
		p := pred[cur]
		path = append([]string{p}, path...)
		cur = p
	}
	return path
}

func pathLength(pred map[string]string, start, goal string) int {
	length := 0
	for cur := goal; cur != start; {
		cur = pred[cur]
		length++
	}
	return length
}

// Reachable runs BFS with early termination once goal is found.
func Reachable(ctx context.Context, provider neighbor.Provider, start, goal string, opts Options) (bool, error) {
	if err := validateStart(ctx, provider, start); err != nil {
		return false, err
	}
	if start == goal {
		return true, nil
	}
	visited := map[string]bool{start: true}
	frontier := []string{start}
	cadence := opts.cancelCadence()
	visitedCount := 1

	for len(frontier) > 0 {
		sort.Strings(frontier)
		var next []string
		for _, node := range frontier {
			if err := checkCancel(ctx, visitedCount, cadence); err != nil {
				return false, err
			}
			neighbors, err := provider.GetNeighbors(ctx, node, opts.Direction, neighborOptions(opts))
			if err != nil {
				return false, err
			}
			for _, n := range neighbors {
				if visited[n.NodeID] {
					continue
				}
				if n.NodeID == goal {
					return true, nil
				}
				visited[n.NodeID] = true
				visitedCount++
				next = append(next, n.NodeID)
			}
		}
		frontier = next
	}
	return false, nil
}

// CommonAncestors BFS-walks the in-direction from each input node and
// intersects the resulting ancestor sets. A node is its own ancestor at
// depth 0.
func CommonAncestors(ctx context.Context, provider neighbor.Provider, nodes []string, opts Options) ([]string, error) {
	inOpts := opts
	inOpts.Direction = neighbor.DirIn

	var sets []map[string]bool
	for _, n := range nodes {
		ancestors, err := BFS(ctx, provider, n, inOpts)
		if err != nil {
			return nil, err
		}
		set := make(map[string]bool, len(ancestors))
		for _, a := range ancestors {
			set[a] = true
		}
		sets = append(sets, set)
	}
	if len(sets) == 0 {
		return nil, nil
	}
	common := sets[0]
	for _, s := range sets[1:] {
		for k := range common {
			if !s[k] {
				delete(common, k)
			}
		}
	}
	out := make([]string, 0, len(common))
	for k := range common {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

// ConnectedComponent BFS-walks with direction both — the union of out and
// in edges, deduplicated by (neighborId, label).
func ConnectedComponent(ctx context.Context, provider neighbor.Provider, start string, opts Options) ([]string, error) {
	bothOpts := opts
	bothOpts.Direction = neighbor.DirBoth
	return BFS(ctx, provider, start, bothOpts)
}
