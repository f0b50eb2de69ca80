// Package fibheap implements a Fibonacci heap keyed by a monotonic
// int64 (nanosecond) time, as used by the timed-event executor, the
// lease heap, and the per-history-cache lifespan heap. No library in
// the reference pack provides a decrease-key priority queue; this is a
// small hand-rolled implementation grounded in the classic
// Fredman/Tarjan structure, sized for the handful of hundred
// simultaneously-scheduled events this core expects (see DESIGN.md).
package fibheap

// Node is a handle into the heap. Callers keep the pointer returned by
// Insert to later call DecreaseKey or Delete on it.
type Node[T any] struct {
	Key   int64
	Value T

	degree int
	marked bool
	parent *Node[T]
	child  *Node[T]
	left   *Node[T]
	right  *Node[T]
}

// Heap is a Fibonacci heap ordered by ascending Key (minimum at the root).
type Heap[T any] struct {
	min   *Node[T]
	count int
}

// New returns an empty heap.
func New[T any]() *Heap[T] {
	return &Heap[T]{}
}

// Len returns the number of nodes currently in the heap.
func (h *Heap[T]) Len() int { return h.count }

// Insert adds a new node with the given key and value and returns its
// handle.
func (h *Heap[T]) Insert(key int64, value T) *Node[T] {
	n := &Node[T]{Key: key, Value: value}
	n.left, n.right = n, n
	h.mergeRootLists(n)
	if h.min == nil || key < h.min.Key {
		h.min = n
	}
	h.count++
	return n
}

// Min returns the minimum node without removing it, or nil if empty.
func (h *Heap[T]) Min() *Node[T] {
	return h.min
}

// ExtractMin removes and returns the minimum node, or nil if empty.
func (h *Heap[T]) ExtractMin() *Node[T] {
	z := h.min
	if z == nil {
		return nil
	}

	if z.child != nil {
		c := z.child
		for {
			next := c.right
			c.parent = nil
			h.mergeRootLists(c)
			if next == z.child {
				break
			}
			c = next
		}
	}

	h.removeFromList(z)
	if z == z.right {
		h.min = nil
	} else {
		h.min = z.right
		h.consolidate()
	}
	h.count--
	z.left, z.right, z.child, z.parent = nil, nil, nil, nil
	return z
}

// DecreaseKey lowers n's key; it is an error (ignored, a no-op) to call
// it with a key greater than the current one — callers needing an
// unconditional overwrite (as the lease heap's set_expiry does) should
// Delete and re-Insert instead.
func (h *Heap[T]) DecreaseKey(n *Node[T], newKey int64) {
	if newKey > n.Key {
		return
	}
	n.Key = newKey
	p := n.parent
	if p != nil && n.Key < p.Key {
		h.cut(n, p)
		h.cascadingCut(p)
	}
	if n.Key < h.min.Key {
		h.min = n
	}
}

// Delete removes an arbitrary node from the heap.
func (h *Heap[T]) Delete(n *Node[T]) {
	h.DecreaseKey(n, minInt64)
	h.ExtractMin()
}

const minInt64 = -1 << 63

func (h *Heap[T]) mergeRootLists(n *Node[T]) {
	if h.min == nil {
		h.min = n
		return
	}
	// splice n's circular list into h.min's circular list
	nLeft := n.left
	minRight := h.min.right

	h.min.right = n
	n.left = h.min
	nLeft.right = minRight
	minRight.left = nLeft
}

func (h *Heap[T]) removeFromList(n *Node[T]) {
	n.left.right = n.right
	n.right.left = n.left
}

func (h *Heap[T]) link(y, x *Node[T]) {
	h.removeFromList(y)
	y.left, y.right = y, y
	if x.child == nil {
		x.child = y
	} else {
		h.spliceIntoChildList(x, y)
	}
	y.parent = x
	x.degree++
	y.marked = false
}

func (h *Heap[T]) spliceIntoChildList(x, y *Node[T]) {
	c := x.child
	cLeft := c.left
	c.left = y
	y.right = c
	y.left = cLeft
	cLeft.right = y
}

func (h *Heap[T]) consolidate() {
	maxDegree := 64
	table := make([]*Node[T], maxDegree)

	var roots []*Node[T]
	if h.min != nil {
		c := h.min
		for {
			roots = append(roots, c)
			c = c.right
			if c == h.min {
				break
			}
		}
	}

	for _, w := range roots {
		x := w
		d := x.degree
		for table[d] != nil {
			y := table[d]
			if x.Key > y.Key {
				x, y = y, x
			}
			h.link(y, x)
			table[d] = nil
			d++
		}
		table[d] = x
	}

	h.min = nil
	for _, n := range table {
		if n == nil {
			continue
		}
		n.left, n.right = n, n
		h.mergeRootLists(n)
		if h.min == nil || n.Key < h.min.Key {
			h.min = n
		}
	}
}

func (h *Heap[T]) cut(n, parent *Node[T]) {
	if parent.child == n {
		if n.right == n {
			parent.child = nil
		} else {
			parent.child = n.right
		}
	}
	h.removeFromList(n)
	parent.degree--
	n.left, n.right = n, n
	n.parent = nil
	n.marked = false
	h.mergeRootLists(n)
}

func (h *Heap[T]) cascadingCut(n *Node[T]) {
	p := n.parent
	if p == nil {
		return
	}
	if !n.marked {
		n.marked = true
		return
	}
	h.cut(n, p)
	h.cascadingCut(p)
}
