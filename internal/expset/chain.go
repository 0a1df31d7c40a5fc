package expset

import "fmt"

// chainGraph tracks predecessor relationships between experiment instances
// so chain declarations can be validated before any pipeline runs.
// Expansion is single-threaded by design, so no locking is needed here.
type chainGraph struct {
	nodes map[string]*chainNode
}

type chainNode struct {
	name       string
	successors map[string]*chainNode
}

func newChainGraph() *chainGraph {
	return &chainGraph{nodes: make(map[string]*chainNode)}
}

func (g *chainGraph) addNode(name string) {
	if _, ok := g.nodes[name]; ok {
		return
	}
	g.nodes[name] = &chainNode{name: name, successors: make(map[string]*chainNode)}
}

// addEdge records that child must wait for pred. Self-references are
// rejected immediately; longer cycles are caught by detectCycles.
func (g *chainGraph) addEdge(pred, child string) error {
	if pred == child {
		return fmt.Errorf("experiment %q cannot chain itself", pred)
	}
	predNode, ok := g.nodes[pred]
	if !ok {
		return fmt.Errorf("chain predecessor %q is not a known experiment", pred)
	}
	childNode, ok := g.nodes[child]
	if !ok {
		return fmt.Errorf("chained experiment %q is not a known experiment", child)
	}
	predNode.successors[child] = childNode
	return nil
}

// detectCycles runs a depth-first search with the classic three-color
// marking. The returned error names a node on the cycle.
func (g *chainGraph) detectCycles() error {
	permanent := make(map[string]bool)
	temporary := make(map[string]bool)

	var visit func(n *chainNode) error
	visit = func(n *chainNode) error {
		if permanent[n.name] {
			return nil
		}
		if temporary[n.name] {
			return fmt.Errorf("experiment chain cycle involving %q", n.name)
		}
		temporary[n.name] = true
		for _, succ := range n.successors {
			if err := visit(succ); err != nil {
				return err
			}
		}
		delete(temporary, n.name)
		permanent[n.name] = true
		return nil
	}

	for _, n := range g.nodes {
		if !permanent[n.name] {
			if err := visit(n); err != nil {
				return err
			}
		}
	}
	return nil
}
