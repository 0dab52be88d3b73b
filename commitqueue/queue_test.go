package commitqueue_test

import (
	"testing"

	"github.com/parawork/parawork/commitqueue"
	"github.com/stretchr/testify/assert"
)

func TestAscend_OrdersByOffset(t *testing.T) {
	q := commitqueue.New[string]()
	q.Put(5, "five")
	q.Put(1, "one")
	q.Put(3, "three")

	var offsets []int64
	for _, e := range q.Ascend() {
		offsets = append(offsets, e.Offset)
	}
	assert.Equal(t, []int64{1, 3, 5}, offsets)
}

func TestRemoveUpTo(t *testing.T) {
	q := commitqueue.New[int]()
	for i := int64(0); i < 10; i++ {
		q.Put(i, int(i))
	}
	q.RemoveUpTo(5)
	assert.Equal(t, 4, q.Len())
	for i := int64(0); i <= 5; i++ {
		_, ok := q.Get(i)
		assert.False(t, ok, "offset %d should have been removed", i)
	}
	for i := int64(6); i < 10; i++ {
		_, ok := q.Get(i)
		assert.True(t, ok, "offset %d should remain", i)
	}
}

func TestRemove(t *testing.T) {
	q := commitqueue.New[int]()
	q.Put(1, 1)
	q.Put(2, 2)
	q.Remove(1)
	assert.Equal(t, 1, q.Len())
	_, ok := q.Get(1)
	assert.False(t, ok)
}
