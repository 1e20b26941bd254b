package routing

import "github.com/azybler/sltm/pkg/network"

// MinHeap is a concrete-typed binary min-heap of segments keyed by cost.
// Avoids the interface boxing of container/heap in the label-setting loop.
type MinHeap struct {
	items []PQItem
}

// PQItem is a priority queue entry.
type PQItem struct {
	Segment network.SegmentID
	Dist    float64
}

func (h *MinHeap) Len() int { return len(h.items) }

func (h *MinHeap) Push(s network.SegmentID, dist float64) {
	h.items = append(h.items, PQItem{s, dist})
	h.siftUp(len(h.items) - 1)
}

func (h *MinHeap) Pop() PQItem {
	n := len(h.items)
	item := h.items[0]
	h.items[0] = h.items[n-1]
	h.items = h.items[:n-1]
	if len(h.items) > 0 {
		h.siftDown(0)
	}
	return item
}

func (h *MinHeap) siftUp(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if h.items[i].Dist >= h.items[parent].Dist {
			break
		}
		h.items[i], h.items[parent] = h.items[parent], h.items[i]
		i = parent
	}
}

func (h *MinHeap) siftDown(i int) {
	n := len(h.items)
	for {
		smallest := i
		if left := 2*i + 1; left < n && h.items[left].Dist < h.items[smallest].Dist {
			smallest = left
		}
		if right := 2*i + 2; right < n && h.items[right].Dist < h.items[smallest].Dist {
			smallest = right
		}
		if smallest == i {
			return
		}
		h.items[i], h.items[smallest] = h.items[smallest], h.items[i]
		i = smallest
	}
}
