package rules

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
)

// Node is an element of a condition tree: either a *Condition or a *Group.
type Node interface {
	NodeID() string
	node()
}

// Condition is a single test against event data.
type Condition struct {
	ID       string        `json:"id,omitempty"`
	Type     ConditionType `json:"type"`
	Operator string        `json:"operator"`
	Value    any           `json:"value"`
	// Field names the data key tested by custom conditions.
	Field string `json:"field,omitempty"`
}

// Group combines its children with Logic. Children are evaluated in order.
type Group struct {
	ID    string `json:"id,omitempty"`
	Logic Logic  `json:"logic"`
	Rules []Node `json:"rules"`
}

func (c *Condition) NodeID() string { return c.ID }
func (g *Group) NodeID() string     { return g.ID }

func (*Condition) node() {}
func (*Group) node()     {}

// Clone returns a deep copy of c.
func (c *Condition) Clone() *Condition {
	if c == nil {
		return nil
	}
	out := *c
	out.Value = cloneValue(c.Value)
	return &out
}

// Clone returns a deep copy of g.
func (g *Group) Clone() *Group {
	if g == nil {
		return nil
	}
	out := &Group{ID: g.ID, Logic: g.Logic}
	if g.Rules != nil {
		out.Rules = make([]Node, 0, len(g.Rules))
	}
	for _, child := range g.Rules {
		out.Rules = append(out.Rules, CloneNode(child))
	}
	return out
}

// CloneNode deep-copies n.
func CloneNode(n Node) Node {
	switch v := n.(type) {
	case *Condition:
		return v.Clone()
	case *Group:
		return v.Clone()
	default:
		return nil
	}
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	case []string:
		return slices.Clone(t)
	case map[string]any:
		out := maps.Clone(t)
		for k, inner := range out {
			out[k] = cloneValue(inner)
		}
		return out
	default:
		return v
	}
}

// Walk calls fn for every node in the tree rooted at g, parents before
// children, with the depth of the node (the root group is depth 1).
// Returning false from fn skips the node's children.
func (g *Group) Walk(fn func(n Node, parent *Group, depth int) bool) {
	if g == nil {
		return
	}
	if !fn(g, nil, 1) {
		return
	}
	g.walkChildren(fn, 2)
}

func (g *Group) walkChildren(fn func(n Node, parent *Group, depth int) bool, depth int) {
	for _, child := range g.Rules {
		switch v := child.(type) {
		case *Condition:
			fn(v, g, depth)
		case *Group:
			if fn(v, g, depth) {
				v.walkChildren(fn, depth+1)
			}
		}
	}
}

// Depth returns the nesting depth of g. A group without nested groups has depth 1.
func (g *Group) Depth() int {
	deepest := 0
	g.Walk(func(n Node, _ *Group, depth int) bool {
		if _, ok := n.(*Group); ok && depth > deepest {
			deepest = depth
		}
		return true
	})
	return deepest
}

// LeafCount returns the number of conditions in the tree.
func (g *Group) LeafCount() int {
	count := 0
	g.Walk(func(n Node, _ *Group, _ int) bool {
		if _, ok := n.(*Condition); ok {
			count++
		}
		return true
	})
	return count
}

// Find returns the node with the given id and the group containing it.
// The parent is nil when id names g itself.
func (g *Group) Find(id string) (Node, *Group, bool) {
	var (
		found  Node
		parent *Group
	)
	g.Walk(func(n Node, p *Group, _ int) bool {
		if found != nil {
			return false
		}
		if id != "" && n.NodeID() == id {
			found, parent = n, p
			return false
		}
		return true
	})
	return found, parent, found != nil
}

// groupJSON is the wire shape of a group's body.
type groupJSON struct {
	ID    string            `json:"id,omitempty"`
	Logic Logic             `json:"logic"`
	Rules []json.RawMessage `json:"rules"`
}

// MarshalJSON writes nested groups wrapped as {"group": {...}} and
// conditions inline.
func (g *Group) MarshalJSON() ([]byte, error) {
	body := groupJSON{ID: g.ID, Logic: g.Logic, Rules: make([]json.RawMessage, 0, len(g.Rules))}
	for _, child := range g.Rules {
		raw, err := marshalChild(child)
		if err != nil {
			return nil, err
		}
		body.Rules = append(body.Rules, raw)
	}
	return json.Marshal(body)
}

func marshalChild(n Node) ([]byte, error) {
	switch v := n.(type) {
	case *Condition:
		return json.Marshal(v)
	case *Group:
		return json.Marshal(struct {
			Group *Group `json:"group"`
		}{Group: v})
	default:
		return nil, fmt.Errorf("unsupported condition tree node %T", n)
	}
}

// UnmarshalJSON reads a group body. Logic is upper-cased.
func (g *Group) UnmarshalJSON(b []byte) error {
	var body groupJSON
	if err := json.Unmarshal(b, &body); err != nil {
		return err
	}
	logic, _ := ParseLogic(string(body.Logic))
	g.ID = body.ID
	g.Logic = logic
	g.Rules = nil
	if body.Rules != nil {
		g.Rules = make([]Node, 0, len(body.Rules))
	}
	for i, raw := range body.Rules {
		child, err := UnmarshalNode(raw)
		if err != nil {
			return fmt.Errorf("rules[%d]: %w", i, err)
		}
		g.Rules = append(g.Rules, child)
	}
	return nil
}

// UnmarshalNode decodes a tree element. An object carrying a "group" object,
// or inline "logic" and "rules", is a group; anything else is a condition.
func UnmarshalNode(raw []byte) (Node, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("condition tree node must be an object: %w", err)
	}
	if probe == nil {
		return nil, fmt.Errorf("condition tree node must not be null")
	}

	if inner, ok := probe["group"]; ok && isObject(inner) {
		g := &Group{}
		if err := json.Unmarshal(inner, g); err != nil {
			return nil, err
		}
		return g, nil
	}
	_, hasLogic := probe["logic"]
	_, hasRules := probe["rules"]
	if hasLogic && hasRules {
		g := &Group{}
		if err := json.Unmarshal(raw, g); err != nil {
			return nil, err
		}
		return g, nil
	}

	c := &Condition{}
	if err := json.Unmarshal(raw, c); err != nil {
		return nil, err
	}
	return c, nil
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}
