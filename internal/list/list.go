// Package list implements an intrusive doubly linked list: nodes are
// embedded by value inside owning structs, so insert/remove given a
// node handle is O(1) with no allocation. Every insert funnels
// through a single insert(prev, next, node) primitive.
package list

// Node_t is an intrusive list hook. Embed it by value in the owning
// struct.
type Node_t struct {
	next *Node_t
	prev *Node_t
	elem interface{}
}

// List_t is the head of an intrusive doubly linked list.
type List_t struct {
	first *Node_t
	last  *Node_t
}

// Init resets a node to the unlinked state.
func (n *Node_t) Init() {
	n.next = nil
	n.prev = nil
}

// Linked reports whether the node is currently part of a list.
func (n *Node_t) Linked() bool {
	return n.next != nil || n.prev != nil
}

// Elem returns the value associated with this node at insertion time.
func (n *Node_t) Elem() interface{} {
	return n.elem
}

// Next returns the following node, or nil at the list tail.
func (n *Node_t) Next() *Node_t {
	return n.next
}

// Prev returns the preceding node, or nil at the list head.
func (n *Node_t) Prev() *Node_t {
	return n.prev
}

// Init resets a list to empty.
func (l *List_t) Init() {
	l.first = nil
	l.last = nil
}

// First returns the head node, or nil if the list is empty.
func (l *List_t) First() *Node_t {
	return l.first
}

// Last returns the tail node, or nil if the list is empty.
func (l *List_t) Last() *Node_t {
	return l.last
}

// Empty reports whether the list has no nodes.
func (l *List_t) Empty() bool {
	return l.first == nil
}

// Count walks the list and returns its length.
func (l *List_t) Count() int {
	n := 0
	for node := l.first; node != nil; node = node.next {
		n++
	}
	return n
}

func (l *List_t) insert(prev, next, node *Node_t, elem interface{}) {
	node.elem = elem
	node.prev = prev
	if prev == nil {
		l.first = node
	} else {
		prev.next = node
	}

	node.next = next
	if next == nil {
		l.last = node
	} else {
		next.prev = node
	}
}

// InsertAfter links node immediately after prev (prev == nil means
// insert at the head).
func (l *List_t) InsertAfter(prev *Node_t, node *Node_t, elem interface{}) {
	var next *Node_t
	if prev == nil {
		next = l.first
	} else {
		next = prev.next
	}
	l.insert(prev, next, node, elem)
}

// InsertBefore links node immediately before next (next == nil means
// insert at the tail).
func (l *List_t) InsertBefore(next *Node_t, node *Node_t, elem interface{}) {
	var prev *Node_t
	if next == nil {
		prev = l.last
	} else {
		prev = next.prev
	}
	l.insert(prev, next, node, elem)
}

// InsertLast appends node to the tail of the list.
func (l *List_t) InsertLast(node *Node_t, elem interface{}) {
	l.insert(l.last, nil, node, elem)
}

// InsertFirst prepends node to the head of the list.
func (l *List_t) InsertFirst(node *Node_t, elem interface{}) {
	l.insert(nil, l.first, node, elem)
}

// Remove unlinks node from the list.
func (l *List_t) Remove(node *Node_t) bool {
	if node == nil {
		return false
	}

	prev := node.prev
	next := node.next

	if prev == nil {
		l.first = next
	} else {
		prev.next = next
	}

	if next == nil {
		l.last = prev
	} else {
		next.prev = prev
	}

	node.Init()
	return true
}

// ForEach calls f for every node in order, stopping early if f
// returns false.
func (l *List_t) ForEach(f func(*Node_t) bool) {
	for node := l.first; node != nil; {
		next := node.next
		if !f(node) {
			return
		}
		node = next
	}
}
