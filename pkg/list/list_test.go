package list

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func collect(l *List[int]) []int {
	var out []int
	for e := l.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value)
	}
	return out
}

func collectBackward(l *List[int]) []int {
	var out []int
	for e := l.Back(); e != nil; e = e.Prev() {
		out = append(out, e.Value)
	}
	return out
}

func Test_List_push(t *testing.T) {
	r := require.New(t)
	l := New[int]()

	l.PushFront(NewElem(2))
	l.PushFront(NewElem(1))
	l.PushBack(NewElem(3))

	r.Equal(3, l.Len())
	r.Equal([]int{1, 2, 3}, collect(l))
	r.Equal([]int{3, 2, 1}, collectBackward(l))
	r.Equal(1, l.Front().Value)
	r.Equal(3, l.Back().Value)
}

func Test_List_moveToFront(t *testing.T) {
	r := require.New(t)
	l := New[int]()

	e1 := l.PushBack(NewElem(1))
	e2 := l.PushBack(NewElem(2))
	e3 := l.PushBack(NewElem(3))

	l.MoveToFront(e3)
	r.Equal([]int{3, 1, 2}, collect(l))
	r.Equal([]int{2, 1, 3}, collectBackward(l))

	// Moving the front is a no-op.
	l.MoveToFront(e3)
	r.Equal([]int{3, 1, 2}, collect(l))

	l.MoveToFront(e2)
	l.MoveToFront(e1)
	r.Equal([]int{1, 2, 3}, collect(l))
	r.Equal(3, l.Len())
}

func Test_List_popElem(t *testing.T) {
	r := require.New(t)
	l := New[int]()

	e1 := l.PushBack(NewElem(1))
	e2 := l.PushBack(NewElem(2))
	e3 := l.PushBack(NewElem(3))

	l.PopElem(e2)
	r.Equal([]int{1, 3}, collect(l))
	r.Equal(2, l.Len())

	l.PopElem(e1)
	l.PopElem(e3)
	r.Equal(0, l.Len())
	r.Nil(l.Front())
	r.Nil(l.Back())

	// A detached element can be pushed again.
	l.PushFront(e2)
	r.Equal([]int{2}, collect(l))
}

func Test_List_popElem_foreign(t *testing.T) {
	l1 := New[int]()
	l2 := New[int]()
	e := l1.PushBack(NewElem(1))

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on foreign elem")
		}
	}()
	l2.PopElem(e)
}
