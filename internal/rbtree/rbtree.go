// Package rbtree implements an intrusive red-black tree: nodes are
// embedded by value inside owning structs and compared via a supplied
// comparator, so a single record (e.g. a vm_map Mapping) can live in
// two independently keyed trees at once.
//
// Search returns a parent+child-index "slot" so a caller can insert
// at a previously located position without re-searching, and the
// nearest-predecessor/successor-via-dummy-node search used by vm_map's
// first-fit and boundary-split logic.
package rbtree

// Color_t is a node's red-black color.
type Color_t int

const (
	Red Color_t = iota
	Black
)

// CompareResult_t is the result of comparing two nodes or a node
// against a search key.
type CompareResult_t int

const (
	LT CompareResult_t = iota
	EQ
	GT
)

// Child_t identifies which child link of a parent a node occupies.
type Child_t int

const (
	Left Child_t = iota
	Right
)

func opposite(c Child_t) Child_t {
	if c == Left {
		return Right
	}
	return Left
}

// CompareFunc_t compares the node being searched for (or inserted)
// against an existing tree node.
type CompareFunc_t func(node, other *Node_t) CompareResult_t

// Node_t is an intrusive red-black tree hook. Embed it by value.
type Node_t struct {
	parent *Node_t
	left   *Node_t
	right  *Node_t
	color  Color_t
	elem   interface{}
}

// Init resets a node to the unlinked state.
func (n *Node_t) Init() {
	n.parent = nil
	n.left = nil
	n.right = nil
	n.color = Red
}

// Elem returns the value associated with this node.
func (n *Node_t) Elem() interface{} {
	return n.elem
}

// NewSearchKey returns a transient, unlinked node carrying elem, for
// use as the "key" argument to Search/SearchSlot/SearchPredecessor/
// SearchSuccessor when the caller only has a bare search value (e.g.
// a vstart or hole_size) and not a real tree member. Never insert the
// returned node into a tree.
func NewSearchKey(elem interface{}) *Node_t {
	return &Node_t{elem: elem}
}

// Linked reports whether the node has a parent or a child link. A
// tree's sole root with no children has neither and reports false,
// the same as a never-inserted node; callers that need to tell those
// apart track membership themselves.
func (n *Node_t) Linked() bool {
	return n.parent != nil || n.left != nil || n.right != nil
}

func isBlack(n *Node_t) bool { return n == nil || n.color == Black }
func isRed(n *Node_t) bool   { return !isBlack(n) }

func (n *Node_t) child(c Child_t) *Node_t {
	if n == nil {
		return nil
	}
	if c == Left {
		return n.left
	}
	return n.right
}

func (n *Node_t) setChild(c Child_t, v *Node_t) {
	if c == Left {
		n.left = v
	} else {
		n.right = v
	}
}

func which(cmp CompareResult_t) Child_t {
	if cmp == LT {
		return Left
	}
	return Right
}

func sibling(n *Node_t) *Node_t {
	if n == nil || n.parent == nil {
		return nil
	}
	if n == n.parent.left {
		return n.parent.right
	}
	return n.parent.left
}

// Slot_t is a previously located insertion point: the parent a new
// node would attach to and which child link it would occupy. Reusable
// by Tree_t.InsertSlot to avoid re-searching after SearchSlot.
type Slot_t struct {
	parent *Node_t
	child  Child_t
}

// Tree_t is the head of an intrusive red-black tree.
type Tree_t struct {
	root *Node_t
}

// Init resets a tree to empty.
func (t *Tree_t) Init() {
	t.root = nil
}

// Empty reports whether the tree has no nodes.
func (t *Tree_t) Empty() bool {
	return t.root == nil
}

func emancipate(child *Node_t) *Node_t {
	parent := child.parent
	child.parent = nil
	if parent != nil {
		if child == parent.left {
			parent.left = nil
		} else {
			parent.right = nil
		}
	}
	return parent
}

func (t *Tree_t) rotate(node *Node_t, dir Child_t) {
	od := opposite(dir)
	child := node.child(od)
	childSubtree := child.child(dir)
	parent := node.parent
	var parentLeft *Node_t
	if parent != nil {
		parentLeft = parent.left
	}

	emancipate(child)
	emancipate(node)

	if parent != nil {
		which := Right
		if parentLeft == node {
			which = Left
		}
		parent.setChild(which, child)
		child.parent = parent
	} else {
		t.root = child
	}

	if childSubtree != nil {
		emancipate(childSubtree)
		node.setChild(od, childSubtree)
		childSubtree.parent = node
	}

	child.setChild(dir, node)
	node.parent = child
}

// Min returns the minimum node under (and including) node.
func Min(node *Node_t) *Node_t {
	var min *Node_t
	for here := node; here != nil; here = here.left {
		min = here
	}
	return min
}

// Max returns the maximum node under (and including) node.
func Max(node *Node_t) *Node_t {
	var max *Node_t
	for here := node; here != nil; here = here.right {
		max = here
	}
	return max
}

// TreeMin returns the minimum node in the whole tree, or nil if empty.
func (t *Tree_t) TreeMin() *Node_t {
	return Min(t.root)
}

// TreeMax returns the maximum node in the whole tree, or nil if empty.
func (t *Tree_t) TreeMax() *Node_t {
	return Max(t.root)
}

// Successor returns the in-order successor of node within its tree.
func Successor(node *Node_t) *Node_t {
	if node == nil {
		return nil
	}
	if node.right != nil {
		return Min(node.right)
	}
	n := node
	for p := n.parent; p != nil; p = p.parent {
		if n == p.left {
			return p
		}
		n = p
	}
	return nil
}

// Predecessor returns the in-order predecessor of node within its tree.
func Predecessor(node *Node_t) *Node_t {
	if node == nil {
		return nil
	}
	if node.left != nil {
		return Max(node.left)
	}
	n := node
	for p := n.parent; p != nil; p = p.parent {
		if n == p.right {
			return p
		}
		n = p
	}
	return nil
}

func (t *Tree_t) insertHere(parent *Node_t, child Child_t, node *Node_t, elem interface{}) bool {
	if node.parent != nil || node.left != nil || node.right != nil {
		return false
	}
	if parent == nil && t.root != nil {
		return false
	}

	node.Init()
	node.elem = elem
	node.parent = parent

	if parent == nil {
		t.root = node
	} else {
		parent.setChild(child, node)
	}

	for {
		if parent == nil {
			node.color = Black
			break
		}
		if isBlack(parent) {
			break
		}

		grandparent := parent.parent
		if grandparent == nil {
			// Root must be black; a red parent with no grandparent
			// can't happen once root-blackening runs, but guard anyway.
			break
		}

		uncle := sibling(parent)
		dir := Left
		if grandparent.right == parent {
			dir = Right
		}

		if isRed(uncle) {
			uncle.color = Black
			parent.color = Black
			grandparent.color = Red
			node = grandparent
			parent = node.parent
			continue
		}

		if node == parent.child(opposite(dir)) {
			t.rotate(parent, dir)
			node, parent = parent, node
		}

		parent.color = Black
		grandparent.color = Red
		t.rotate(grandparent, opposite(dir))
		break
	}

	return true
}

// InsertSlot inserts node (with elem) at a previously located slot
// (see SearchSlot). Returns false if the slot is stale (someone else
// inserted there) or node is already linked.
func (t *Tree_t) InsertSlot(slot Slot_t, node *Node_t, elem interface{}) bool {
	return t.insertHere(slot.parent, slot.child, node, elem)
}

// Insert walks the tree via compare and inserts node/elem in sorted
// position. Returns false if an equal node already exists.
func (t *Tree_t) Insert(compare CompareFunc_t, node *Node_t, elem interface{}) bool {
	var parent *Node_t
	var child Child_t

	// Set elem before the walk: comparators (e.g. the scheduler's
	// vruntime comparator) read it off the node being inserted via
	// Elem(), not a side-channel argument.
	node.elem = elem

	for here := t.root; here != nil; {
		cmp := compare(node, here)
		if cmp == EQ {
			return false
		}
		parent = here
		child = which(cmp)
		here = here.child(child)
	}

	return t.insertHere(parent, child, node, elem)
}

// Remove unlinks node from the tree, rebalancing as needed.
func (t *Tree_t) Remove(node *Node_t) bool {
	if node == nil {
		return false
	}

	successor := node
	if node.left != nil && node.right != nil {
		successor = Successor(node)
	}

	child := successor.left
	if child == nil {
		child = successor.right
	}
	parent := successor.parent
	color := successor.color

	if child != nil {
		child.parent = parent
	}

	if parent == nil {
		t.root = child
	} else if successor == parent.left {
		parent.left = child
	} else {
		parent.right = child
	}

	if node != successor {
		p, l, r := node.parent, node.left, node.right

		if p == nil {
			t.root = successor
		} else if p.left == node {
			p.left = successor
		} else {
			p.right = successor
		}

		if l != nil {
			l.parent = successor
		}
		if r != nil {
			r.parent = successor
		}

		// The successor hook takes over node's links and color but
		// keeps carrying its own element.
		elem := successor.elem
		*successor = *node
		successor.elem = elem
	}

	node.Init()

	if color == Red {
		return true
	}

	if node == parent {
		parent = successor
	}
	node = child

	for {
		if isRed(node) {
			node.color = Black
			break
		}
		if parent == nil {
			break
		}

		dir := Left
		if parent.left != node {
			dir = Right
		}
		s := parent.child(opposite(dir))

		if isRed(s) {
			s.color = Black
			parent.color = Red
			t.rotate(parent, dir)
			s = parent.child(opposite(dir))
		}

		if isBlack(s.left) && isBlack(s.right) {
			s.color = Red
			node = parent
			parent = node.parent
			continue
		}

		if isBlack(s.child(opposite(dir))) {
			if c := s.child(dir); c != nil {
				c.color = Black
			}
			s.color = Red
			t.rotate(s, opposite(dir))
			s = parent.child(opposite(dir))
		}

		s.color = parent.color
		parent.color = Black
		if c := s.child(opposite(dir)); c != nil {
			c.color = Black
		}
		t.rotate(parent, dir)
		break
	}

	return true
}

// SearchSlot walks the tree for a node comparing EQ to key via
// compare. If found, returns it; slot is always set to where key
// would be inserted (stale once found==false and the tree mutates).
func (t *Tree_t) SearchSlot(compare CompareFunc_t, key *Node_t) (found *Node_t, slot Slot_t) {
	var parent *Node_t
	var child Child_t

	here := t.root
	for here != nil {
		cmp := compare(key, here)
		if cmp == EQ {
			break
		}
		parent = here
		child = which(cmp)
		here = here.child(child)
	}

	return here, Slot_t{parent: parent, child: child}
}

// Search returns the node comparing EQ to key, or nil.
func (t *Tree_t) Search(compare CompareFunc_t, key *Node_t) *Node_t {
	n, _ := t.SearchSlot(compare, key)
	return n
}

type nearestDir int

const (
	dirPredecessor nearestDir = iota
	dirSuccessor
)

func (t *Tree_t) searchNearest(compare CompareFunc_t, key *Node_t, dir nearestDir) (nearest *Node_t, exact bool, slot Slot_t) {
	var parent *Node_t
	var child Child_t
	var cmp CompareResult_t

	here := t.root
	if here == nil {
		return nil, false, Slot_t{}
	}

	for here != nil {
		cmp = compare(key, here)
		if cmp == EQ {
			break
		}
		parent = here
		child = which(cmp)
		here = here.child(child)
	}

	slot = Slot_t{parent: parent, child: child}

	if cmp == EQ {
		return here, true, slot
	}

	// Temporarily splice a dummy node into the located slot and walk
	// to its predecessor/successor, then remove it again.
	var dummy Node_t
	if parent != nil {
		parent.setChild(child, &dummy)
	}
	dummy.parent = parent

	if dir == dirSuccessor {
		here = Successor(&dummy)
	} else {
		here = Predecessor(&dummy)
	}

	emancipate(&dummy)

	return here, false, slot
}

// SearchPredecessor returns the node immediately before where key
// would sort (or the exact match if present), along with the slot key
// would occupy.
func (t *Tree_t) SearchPredecessor(compare CompareFunc_t, key *Node_t) (node *Node_t, exact bool, slot Slot_t) {
	return t.searchNearest(compare, key, dirPredecessor)
}

// SearchSuccessor returns the node immediately after where key would
// sort (or the exact match if present), along with the slot key would
// occupy.
func (t *Tree_t) SearchSuccessor(compare CompareFunc_t, key *Node_t) (node *Node_t, exact bool, slot Slot_t) {
	return t.searchNearest(compare, key, dirSuccessor)
}

// WalkInorder visits every node in ascending order.
func WalkInorder(node *Node_t, walk func(*Node_t)) {
	if node == nil {
		return
	}
	WalkInorder(node.left, walk)
	walk(node)
	WalkInorder(node.right, walk)
}

// WalkInorder visits every node of the tree in ascending order.
func (t *Tree_t) WalkInorder(walk func(*Node_t)) {
	WalkInorder(t.root, walk)
}
