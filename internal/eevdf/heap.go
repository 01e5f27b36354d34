package eevdf

// eligibleHeap orders nodes by ascending virtual deadline, so the root is
// the earliest deadline - the "D" in EEVDF.
type eligibleHeap []*Node

func (h eligibleHeap) Len() int           { return len(h) }
func (h eligibleHeap) Less(i, j int) bool { return h[i].virtualDeadline < h[j].virtualDeadline }
func (h eligibleHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *eligibleHeap) Push(x any) {
	n := x.(*Node)
	n.heapIndex = len(*h)
	*h = append(*h, n)
}

func (h *eligibleHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// decayingHeap orders nodes by ascending (idealRuntimeBase+runtime), which
// is equivalent to descending lag for a fixed totalIdealRuntime snapshot -
// see the package doc comment for why this ordering never needs a re-fix.
type decayingHeap []*Node

func (h decayingHeap) Len() int { return len(h) }
func (h decayingHeap) Less(i, j int) bool {
	return h[i].decayBase < h[j].decayBase
}
func (h decayingHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *decayingHeap) Push(x any) {
	n := x.(*Node)
	n.heapIndex = len(*h)
	*h = append(*h, n)
}

func (h *decayingHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
