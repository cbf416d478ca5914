// Package dag implements the directed-acyclic-graph builder and validator:
// edge/alias ingestion, synthetic Start/End synthesis, cycle and
// connectivity checking, parent-list recording, and the Pop operation that
// drives frontier advancement.
package dag

import (
	"log/slog"
)

// Edge is a "u must complete before v" dependency pair.
type Edge struct {
	From string
	To   string
}

// NodeVisitor is invoked once per node by TraverseAction.
type NodeVisitor func(n *Node) error

// DAG owns the node pool, name index, alias map, and the parent-list view
// built by Traverse. Not safe for concurrent structural mutation; once
// built and cloned, the shared fields (name index, alias map, parent
// lists) are read-only and safe for concurrent reads from many sessions.
type DAG struct {
	nodePool     []*Node
	nameToID     map[string]uint32
	allocatedID  uint32
	aliasMap     map[string]string
	hasTraversed bool
	pairSet      map[string]struct{}

	visited     []bool
	recurStack  []bool
	nodeParents [][]*Node

	startNodeID uint32
	endNodeID   uint32
}

// New returns an empty, unbuilt DAG.
func New() *DAG {
	return &DAG{
		nameToID: make(map[string]uint32),
		pairSet:  make(map[string]struct{}),
	}
}

func (d *DAG) allocNode(name string) *Node {
	id := d.allocatedID
	d.allocatedID++
	n := &Node{id: id, name: name}
	d.nodePool = append(d.nodePool, n)
	d.nameToID[name] = id
	return n
}

func (d *DAG) getOrAllocNode(name string) *Node {
	if id, ok := d.nameToID[name]; ok {
		return d.nodePool[id]
	}
	return d.allocNode(name)
}

func (d *DAG) addLink(pre, next string) error {
	preNode := d.getOrAllocNode(pre)
	nextNode := d.getOrAllocNode(next)
	preNode.links = append(preNode.links, nextNode.id)
	nextNode.indegree.Add(1)
	return nil
}

// AddNodeLinks ingests dependency pairs, standalone nodes, and an optional
// alias map. It rejects reserved names in user input and dedupes edges.
func (d *DAG) AddNodeLinks(links []Edge, singles []string, aliasMap map[string]string) error {
	if len(links) == 0 && len(singles) == 0 {
		return newError(ErrEmptyLinks, "no edges or standalone nodes supplied")
	}
	if len(aliasMap) > 0 {
		d.aliasMap = aliasMap
	}
	for _, e := range links {
		if isReservedName(e.From) || isReservedName(e.To) {
			return newError(ErrInvalidName, "reserved name in edge %s->%s", e.From, e.To)
		}
		key := e.From + "->" + e.To
		if _, dup := d.pairSet[key]; dup {
			continue
		}
		d.pairSet[key] = struct{}{}
		if err := d.addLink(e.From, e.To); err != nil {
			return err
		}
	}
	for _, s := range singles {
		if isReservedName(s) {
			return newError(ErrInvalidName, "reserved name in standalone node %s", s)
		}
		d.getOrAllocNode(s)
	}
	return nil
}

// Pop atomically decrements the indegree of every child of parent; a
// child becomes ready exactly when its decrement drives indegree to zero.
// Returns ErrNoReadyNodes if no child became ready (they all still have
// other outstanding parents, or parent has no children).
func (d *DAG) Pop(parent *Node) ([]*Node, error) {
	var ready []*Node
	for _, cid := range parent.links {
		child := d.nodePool[cid]
		if child.indegree.Add(-1) == 0 {
			ready = append(ready, child)
		}
	}
	if len(ready) == 0 {
		return nil, newError(ErrNoReadyNodes, "no nodes ready after popping %s", parent.name)
	}
	return ready, nil
}

// Init runs Adjust, CheckValidity(valid), and Traverse in sequence, the
// order the reference combines into one call.
func (d *DAG) Init(valid func(fullName string) bool) error {
	if err := d.adjust(); err != nil {
		slog.Error("dag adjust failed", "error", err)
		return err
	}
	if err := d.checkValidity(valid); err != nil {
		slog.Error("dag check validity failed", "error", err)
		return err
	}
	if err := d.traverse(); err != nil {
		slog.Error("dag traverse failed, maybe has circle", "error", err)
		return err
	}
	return nil
}

func (d *DAG) adjust() error {
	if len(d.nodePool) == 0 {
		return newError(ErrEmptyNodes, "empty node pool")
	}
	var starts, ends []*Node
	for _, n := range d.nodePool {
		if n.indegree.Load() == 0 {
			starts = append(starts, n)
		}
		if len(n.links) == 0 {
			ends = append(ends, n)
		}
	}
	if len(starts) == 0 || len(ends) == 0 {
		return newError(ErrNoStartEndNode, "no start or end node found")
	}
	for _, s := range starts {
		if err := d.addLink(StartNodeName, s.name); err != nil {
			return err
		}
	}
	for _, e := range ends {
		if err := d.addLink(e.name, EndNodeName); err != nil {
			return err
		}
	}
	d.startNodeID = d.nameToID[StartNodeName]
	d.endNodeID = d.nameToID[EndNodeName]
	if len(d.aliasMap) > 0 {
		d.aliasMap[StartNodeName] = StartNodeName
		d.aliasMap[EndNodeName] = EndNodeName
	}
	return nil
}

func (d *DAG) checkValidity(valid func(string) bool) error {
	hasAlias := len(d.aliasMap) > 0
	for _, n := range d.nodePool {
		if hasAlias {
			full, ok := d.aliasMap[n.name]
			if !ok {
				return newError(ErrInvalidName, "no full name for alias %s", n.name)
			}
			n.fullName = full
		} else {
			n.fullName = n.name
		}
		if !valid(n.fullName) {
			return newError(ErrInvalidName, "not registered, alias: %s, full name: %s", n.name, n.fullName)
		}
	}
	return nil
}

func (d *DAG) traverse() error {
	n := len(d.nodePool)
	d.visited = make([]bool, n)
	d.recurStack = make([]bool, n)
	d.nodeParents = make([][]*Node, n)
	start := d.nodePool[d.startNodeID]
	if err := d.dfs(start); err != nil {
		return err
	}
	visitedCount := 0
	for _, v := range d.visited {
		if v {
			visitedCount++
		}
	}
	if visitedCount != len(d.nameToID) {
		return newError(ErrNotConnected, "visited %d of %d nodes", visitedCount, len(d.nameToID))
	}
	d.hasTraversed = true
	return nil
}

func (d *DAG) dfs(node *Node) error {
	d.visited[node.id] = true
	d.recurStack[node.id] = true
	for _, cid := range node.links {
		child := d.nodePool[cid]
		d.nodeParents[cid] = append(d.nodeParents[cid], node)
		if d.visited[cid] {
			if d.recurStack[cid] {
				return newError(ErrHasCircle, "circle detected at %s", child.name)
			}
			continue
		}
		if err := d.dfs(child); err != nil {
			return err
		}
	}
	d.recurStack[node.id] = false
	return nil
}

// List logs the current node pool at debug level, for operator visibility.
func (d *DAG) List() {
	for _, n := range d.nodePool {
		slog.Debug("dag node", "id", n.id, "name", n.name, "full_name", n.fullName,
			"indegree", n.indegree.Load(), "outdegree", len(n.links))
	}
}

// GetDepNodes returns node's recorded parent set (built by Traverse).
func (d *DAG) GetDepNodes(node *Node) []*Node {
	return d.nodeParents[node.id]
}

// GetStartNode returns the synthetic StartPhase node.
func (d *DAG) GetStartNode() *Node { return d.nodePool[d.startNodeID] }

// GetEndNode returns the synthetic EndPhase node.
func (d *DAG) GetEndNode() *Node { return d.nodePool[d.endNodeID] }

// CopyFrom clones a traversed source DAG: each node is value-copied with
// fresh indegree counters (private per clone), while the parent-list view,
// name index, and alias map are shared read-only.
func (d *DAG) CopyFrom(source *DAG) error {
	if !source.hasTraversed {
		return newError(ErrInvalidCopy, "source DAG has not been traversed")
	}
	d.nodePool = make([]*Node, len(source.nodePool))
	for i, sn := range source.nodePool {
		nn := &Node{id: sn.id, name: sn.name, fullName: sn.fullName}
		nn.indegree.Store(sn.indegree.Load())
		nn.indegreeDup.Store(sn.indegree.Load())
		nn.links = sn.links
		d.nodePool[i] = nn
	}
	d.nameToID = source.nameToID
	d.aliasMap = source.aliasMap
	d.nodeParents = source.nodeParents
	d.startNodeID = source.startNodeID
	d.endNodeID = source.endNodeID
	d.allocatedID = source.allocatedID
	d.hasTraversed = source.hasTraversed
	return nil
}

// TraverseAction invokes fn once per node in the pool, in pool order.
func (d *DAG) TraverseAction(fn NodeVisitor) error {
	for _, n := range d.nodePool {
		if err := fn(n); err != nil {
			return err
		}
	}
	return nil
}

// Size returns the total node count, including the synthetic Start/End.
func (d *DAG) Size() int { return len(d.nodePool) }

// Clear resets the DAG to its zero state.
func (d *DAG) Clear() {
	*d = DAG{
		nameToID: make(map[string]uint32),
		pairSet:  make(map[string]struct{}),
	}
}
