package rbtree

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entry struct {
	v    int
	node Node_t
}

func cmpInt(a, b *Node_t) CompareResult_t {
	av, bv := a.Elem().(*entry).v, b.Elem().(*entry).v
	switch {
	case av < bv:
		return LT
	case av > bv:
		return GT
	default:
		return EQ
	}
}

func inorder(t *Tree_t) []int {
	var out []int
	t.WalkInorder(func(n *Node_t) {
		out = append(out, n.Elem().(*entry).v)
	})
	return out
}

// blackHeight verifies the red-black invariants under n and returns
// the black height, failing the test on any violation.
func blackHeight(t *testing.T, n *Node_t) int {
	t.Helper()
	if n == nil {
		return 1
	}
	if isRed(n) {
		require.True(t, isBlack(n.left), "red node with red left child")
		require.True(t, isBlack(n.right), "red node with red right child")
	}
	lh := blackHeight(t, n.left)
	rh := blackHeight(t, n.right)
	require.Equal(t, lh, rh, "black heights differ under %d", n.Elem().(*entry).v)
	if isBlack(n) {
		return lh + 1
	}
	return lh
}

func insertAll(t *testing.T, tree *Tree_t, vals []int) []*entry {
	t.Helper()
	entries := make([]*entry, len(vals))
	for i, v := range vals {
		entries[i] = &entry{v: v}
		require.True(t, tree.Insert(cmpInt, &entries[i].node, entries[i]))
	}
	return entries
}

func TestInsertKeepsSortedOrderAndBalance(t *testing.T) {
	var tree Tree_t
	tree.Init()

	vals := []int{50, 20, 90, 10, 30, 70, 95, 5, 15, 25, 35, 60, 80, 93, 99}
	insertAll(t, &tree, vals)

	sorted := append([]int(nil), vals...)
	sort.Ints(sorted)
	assert.Equal(t, sorted, inorder(&tree))
	require.True(t, isBlack(tree.root), "root must be black")
	blackHeight(t, tree.root)
}

func TestInsertDuplicateFails(t *testing.T) {
	var tree Tree_t
	tree.Init()

	a := &entry{v: 7}
	b := &entry{v: 7}
	require.True(t, tree.Insert(cmpInt, &a.node, a))
	assert.False(t, tree.Insert(cmpInt, &b.node, b))
}

func TestRemoveRebalances(t *testing.T) {
	var tree Tree_t
	tree.Init()

	vals := []int{50, 20, 90, 10, 30, 70, 95, 5, 15, 25, 35, 60, 80, 93, 99}
	entries := insertAll(t, &tree, vals)

	for _, i := range []int{0, 3, 7, 11, 14} {
		require.True(t, tree.Remove(&entries[i].node))
		assert.False(t, entries[i].node.Linked())
		if tree.root != nil {
			require.True(t, isBlack(tree.root))
			blackHeight(t, tree.root)
		}
	}

	want := []int{15, 20, 25, 30, 35, 70, 80, 90, 93, 95}
	assert.Equal(t, want, inorder(&tree))
}

func TestRemoveAllLeavesEmptyTree(t *testing.T) {
	var tree Tree_t
	tree.Init()

	entries := insertAll(t, &tree, []int{3, 1, 4, 5, 9, 2, 6})
	for _, e := range entries {
		require.True(t, tree.Remove(&e.node))
	}
	assert.True(t, tree.Empty())
}

func TestSearchAndSlotReuse(t *testing.T) {
	var tree Tree_t
	tree.Init()

	insertAll(t, &tree, []int{10, 20, 30})

	found := tree.Search(cmpInt, NewSearchKey(&entry{v: 20}))
	require.NotNil(t, found)
	assert.Equal(t, 20, found.Elem().(*entry).v)

	missing, slot := tree.SearchSlot(cmpInt, NewSearchKey(&entry{v: 25}))
	require.Nil(t, missing)

	e := &entry{v: 25}
	require.True(t, tree.InsertSlot(slot, &e.node, e))
	assert.Equal(t, []int{10, 20, 25, 30}, inorder(&tree))
}

func TestSearchPredecessorSuccessor(t *testing.T) {
	var tree Tree_t
	tree.Init()

	insertAll(t, &tree, []int{10, 20, 30})

	pred, exact, _ := tree.SearchPredecessor(cmpInt, NewSearchKey(&entry{v: 25}))
	require.NotNil(t, pred)
	assert.False(t, exact)
	assert.Equal(t, 20, pred.Elem().(*entry).v)

	succ, exact, _ := tree.SearchSuccessor(cmpInt, NewSearchKey(&entry{v: 25}))
	require.NotNil(t, succ)
	assert.False(t, exact)
	assert.Equal(t, 30, succ.Elem().(*entry).v)

	hit, exact, _ := tree.SearchSuccessor(cmpInt, NewSearchKey(&entry{v: 20}))
	require.NotNil(t, hit)
	assert.True(t, exact)
	assert.Equal(t, 20, hit.Elem().(*entry).v)

	none, _, _ := tree.SearchPredecessor(cmpInt, NewSearchKey(&entry{v: 5}))
	assert.Nil(t, none)

	none, _, _ = tree.SearchSuccessor(cmpInt, NewSearchKey(&entry{v: 35}))
	assert.Nil(t, none)
}

func TestMinMaxSuccessorWalk(t *testing.T) {
	var tree Tree_t
	tree.Init()

	insertAll(t, &tree, []int{40, 10, 60, 5, 20, 50, 70})

	assert.Equal(t, 5, tree.TreeMin().Elem().(*entry).v)
	assert.Equal(t, 70, tree.TreeMax().Elem().(*entry).v)

	var walked []int
	for n := tree.TreeMin(); n != nil; n = Successor(n) {
		walked = append(walked, n.Elem().(*entry).v)
	}
	assert.Equal(t, []int{5, 10, 20, 40, 50, 60, 70}, walked)

	var back []int
	for n := tree.TreeMax(); n != nil; n = Predecessor(n) {
		back = append(back, n.Elem().(*entry).v)
	}
	assert.Equal(t, []int{70, 60, 50, 40, 20, 10, 5}, back)
}
