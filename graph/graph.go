package graph

import (
	"encoding/json"
	"sort"

	"gopkg.in/yaml.v3"
)

// Edge is a single output→input connection.
type Edge struct {
	Output string `json:"output"`
	Input  string `json:"input"`
}

// Graph is a set of output→input edges with a reverse index.
//
// The zero value is an empty graph ready to use. A Graph is not safe for
// concurrent mutation; callers publish copies made with Clone.
type Graph struct {
	fwd map[string]map[string]struct{}
	rev map[string]map[string]struct{}
}

// FromMap builds a graph from the configuration representation.
func FromMap(m map[string][]string) Graph {
	var g Graph
	for out, ins := range m {
		for _, in := range ins {
			g.Connect(true, out, in)
		}
	}
	return g
}

// Connect adds (connect == true) or removes the edge a→b. Both directions are
// idempotent and removing an edge that does not exist is a no-op.
func (g *Graph) Connect(connect bool, a, b string) {
	if connect {
		if g.fwd == nil {
			g.fwd = make(map[string]map[string]struct{})
			g.rev = make(map[string]map[string]struct{})
		}
		link(g.fwd, a, b)
		link(g.rev, b, a)
		return
	}
	unlink(g.fwd, a, b)
	unlink(g.rev, b, a)
}

func link(m map[string]map[string]struct{}, k, v string) {
	set, ok := m[k]
	if !ok {
		set = make(map[string]struct{})
		m[k] = set
	}
	set[v] = struct{}{}
}

func unlink(m map[string]map[string]struct{}, k, v string) {
	set, ok := m[k]
	if !ok {
		return
	}
	delete(set, v)
	if len(set) == 0 {
		delete(m, k)
	}
}

// IsConnected reports whether a has an entry containing b.
func (g *Graph) IsConnected(a, b string) bool {
	_, ok := g.fwd[a][b]
	return ok
}

// Toggle flips the edge a→b and returns the new state.
func (g *Graph) Toggle(a, b string) bool {
	connect := !g.IsConnected(a, b)
	g.Connect(connect, a, b)
	return connect
}

// HasOutput reports whether a has at least one input.
func (g *Graph) HasOutput(a string) bool {
	return len(g.fwd[a]) > 0
}

// Inputs returns the inputs fed by output a, sorted.
func (g *Graph) Inputs(a string) []string {
	return sortedKeys(g.fwd[a])
}

// Outputs returns the outputs feeding input b, sorted.
func (g *Graph) Outputs(b string) []string {
	return sortedKeys(g.rev[b])
}

// EachEdge calls fn for every edge in unspecified order without allocating.
func (g *Graph) EachEdge(fn func(output, input string)) {
	for out, set := range g.fwd {
		for in := range set {
			fn(out, in)
		}
	}
}

// Edges returns every edge sorted by output then input.
func (g *Graph) Edges() []Edge {
	edges := make([]Edge, 0, g.Len())
	for _, out := range sortedKeys(g.fwd) {
		for _, in := range sortedKeys(g.fwd[out]) {
			edges = append(edges, Edge{Output: out, Input: in})
		}
	}
	return edges
}

// Len returns the number of edges.
func (g *Graph) Len() int {
	n := 0
	for _, set := range g.fwd {
		n += len(set)
	}
	return n
}

// Clone returns a deep copy of g.
func (g *Graph) Clone() Graph {
	var c Graph
	for out, set := range g.fwd {
		for in := range set {
			c.Connect(true, out, in)
		}
	}
	return c
}

// ToMap returns the configuration representation with sorted input lists.
func (g *Graph) ToMap() map[string][]string {
	m := make(map[string][]string, len(g.fwd))
	for out, set := range g.fwd {
		m[out] = sortedKeys(set)
	}
	return m
}

// MarshalJSON encodes the graph as {"output": ["input", ...]}.
func (g Graph) MarshalJSON() ([]byte, error) {
	return json.Marshal(g.ToMap())
}

// UnmarshalJSON replaces the graph with the decoded edges.
func (g *Graph) UnmarshalJSON(data []byte) error {
	var m map[string][]string
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*g = FromMap(m)
	return nil
}

// MarshalYAML encodes the graph the same way as MarshalJSON.
func (g Graph) MarshalYAML() (interface{}, error) {
	return g.ToMap(), nil
}

// UnmarshalYAML replaces the graph with the decoded edges.
func (g *Graph) UnmarshalYAML(node *yaml.Node) error {
	var m map[string][]string
	if err := node.Decode(&m); err != nil {
		return err
	}
	*g = FromMap(m)
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
