package list

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	v    int
	node Node_t
}

func collect(l *List_t) []int {
	var out []int
	l.ForEach(func(n *Node_t) bool {
		out = append(out, n.Elem().(*item).v)
		return true
	})
	return out
}

func TestInsertLastKeepsOrder(t *testing.T) {
	var l List_t
	l.Init()

	items := []*item{{v: 1}, {v: 2}, {v: 3}}
	for _, it := range items {
		l.InsertLast(&it.node, it)
	}

	assert.Equal(t, []int{1, 2, 3}, collect(&l))
	assert.Equal(t, 3, l.Count())
	assert.Equal(t, 1, l.First().Elem().(*item).v)
	assert.Equal(t, 3, l.Last().Elem().(*item).v)
}

func TestInsertFirstAndBefore(t *testing.T) {
	var l List_t
	l.Init()

	a, b, c := &item{v: 1}, &item{v: 2}, &item{v: 3}
	l.InsertFirst(&c.node, c)
	l.InsertFirst(&a.node, a)
	l.InsertBefore(&c.node, &b.node, b)

	assert.Equal(t, []int{1, 2, 3}, collect(&l))
}

func TestInsertAfterNilMeansHead(t *testing.T) {
	var l List_t
	l.Init()

	a, b := &item{v: 2}, &item{v: 1}
	l.InsertLast(&a.node, a)
	l.InsertAfter(nil, &b.node, b)

	assert.Equal(t, []int{1, 2}, collect(&l))
}

func TestRemoveMiddleAndEnds(t *testing.T) {
	var l List_t
	l.Init()

	items := []*item{{v: 1}, {v: 2}, {v: 3}}
	for _, it := range items {
		l.InsertLast(&it.node, it)
	}

	require.True(t, l.Remove(&items[1].node))
	assert.Equal(t, []int{1, 3}, collect(&l))
	assert.False(t, items[1].node.Linked())

	require.True(t, l.Remove(&items[0].node))
	require.True(t, l.Remove(&items[2].node))
	assert.True(t, l.Empty())
	assert.Nil(t, l.First())
	assert.Nil(t, l.Last())
}

func TestForEachStopsEarly(t *testing.T) {
	var l List_t
	l.Init()

	items := []*item{{v: 1}, {v: 2}, {v: 3}}
	for _, it := range items {
		l.InsertLast(&it.node, it)
	}

	seen := 0
	l.ForEach(func(n *Node_t) bool {
		seen++
		return false
	})
	assert.Equal(t, 1, seen)
}

func TestRemoveDuringForEach(t *testing.T) {
	var l List_t
	l.Init()

	items := []*item{{v: 1}, {v: 2}, {v: 3}, {v: 4}}
	for _, it := range items {
		l.InsertLast(&it.node, it)
	}

	// ForEach captures next before the callback runs, so unlinking the
	// visited node is safe.
	l.ForEach(func(n *Node_t) bool {
		if n.Elem().(*item).v%2 == 0 {
			l.Remove(n)
		}
		return true
	})

	assert.Equal(t, []int{1, 3}, collect(&l))
}
