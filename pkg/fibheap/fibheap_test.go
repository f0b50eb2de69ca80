package fibheap

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractMinOrdering(t *testing.T) {
	h := New[int]()
	keys := make([]int64, 1000)
	r := rand.New(rand.NewSource(1))
	for i := range keys {
		keys[i] = r.Int63n(1_000_000)
		h.Insert(keys[i], i)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	var got []int64
	for h.Len() > 0 {
		n := h.ExtractMin()
		require.NotNil(t, n)
		got = append(got, n.Key)
	}
	require.Equal(t, keys, got)
}

func TestDecreaseKeyMovesMinimum(t *testing.T) {
	h := New[string]()
	a := h.Insert(50, "a")
	h.Insert(10, "b")
	h.Insert(30, "c")

	h.DecreaseKey(a, 1)
	min := h.ExtractMin()
	require.Equal(t, "a", min.Value)
	require.Equal(t, int64(1), min.Key)
}

func TestDeleteRemovesArbitraryNode(t *testing.T) {
	h := New[int]()
	n1 := h.Insert(5, 1)
	h.Insert(10, 2)
	h.Insert(1, 3)

	h.Delete(n1)
	require.Equal(t, 2, h.Len())

	first := h.ExtractMin()
	require.Equal(t, 3, first.Value)
}
