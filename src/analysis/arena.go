package analysis

import "strconv"

// TreeNode is the nested shape providers return for structure and logic
// trees.
type TreeNode struct {
	Label    string      `json:"label" validate:"required"`
	Type     string      `json:"type"`
	Summary  string      `json:"summary,omitempty"`
	Children []*TreeNode `json:"children,omitempty" validate:"omitempty,dive,required"`
}

// ArenaNode is a tree node addressed by id. Children holds ids in their
// original order.
type ArenaNode struct {
	ID       string   `json:"id"`
	ParentID string   `json:"parent_id,omitempty"`
	Depth    int      `json:"depth"`
	Label    string   `json:"label"`
	Type     string   `json:"type,omitempty"`
	Summary  string   `json:"summary,omitempty"`
	Children []string `json:"children"`
}

// Arena is a flattened tree. Order lists ids in pre-order, which is also the
// order in which ids were assigned.
type Arena struct {
	Root  string                `json:"root"`
	Nodes map[string]*ArenaNode `json:"nodes"`
	Order []string              `json:"order"`
}

// Edge links a parent node to a child node.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type frame struct {
	node     *TreeNode
	parentID string
	depth    int
}

// Flatten walks root with an explicit stack and assigns ids n1..nK in
// pre-order. Nil children are skipped. A nil root yields an empty arena.
func Flatten(root *TreeNode) *Arena {
	arena := &Arena{Nodes: map[string]*ArenaNode{}, Order: []string{}}
	if root == nil {
		return arena
	}

	stack := []frame{{node: root}}
	next := 1
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		id := "n" + strconv.Itoa(next)
		next++

		arena.Nodes[id] = &ArenaNode{
			ID:       id,
			ParentID: top.parentID,
			Depth:    top.depth,
			Label:    top.node.Label,
			Type:     top.node.Type,
			Summary:  top.node.Summary,
			Children: []string{},
		}
		arena.Order = append(arena.Order, id)
		if top.parentID == "" {
			arena.Root = id
		} else {
			parent := arena.Nodes[top.parentID]
			parent.Children = append(parent.Children, id)
		}

		for i := len(top.node.Children) - 1; i >= 0; i-- {
			if child := top.node.Children[i]; child != nil {
				stack = append(stack, frame{node: child, parentID: id, depth: top.depth + 1})
			}
		}
	}
	return arena
}

// Edges lists parent to child links in pre-order.
func (a *Arena) Edges() []Edge {
	edges := make([]Edge, 0, len(a.Order))
	for _, id := range a.Order {
		for _, child := range a.Nodes[id].Children {
			edges = append(edges, Edge{From: id, To: child})
		}
	}
	return edges
}

// NodeList returns the nodes in pre-order.
func (a *Arena) NodeList() []*ArenaNode {
	nodes := make([]*ArenaNode, 0, len(a.Order))
	for _, id := range a.Order {
		nodes = append(nodes, a.Nodes[id])
	}
	return nodes
}
