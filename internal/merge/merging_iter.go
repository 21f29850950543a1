// Package merge implements the merging input cursor of spec §4.A: pulling
// the smallest unseen internal key across N memtable iterators, in
// internal-key order (ties resolved by descending sequence, then descending
// kind).
package merge

import (
	"container/heap"

	"github.com/hashicorp/go-multierror"

	"basalt/internal/base"
	"basalt/internal/compare"
)

// PointIterator is the minimal forward-iteration contract the merging
// cursor needs from a memtable's point iterator.
type PointIterator interface {
	First() *base.InternalKV
	Next() *base.InternalKV
	Close() error
}

type heapItem struct {
	it  PointIterator
	kv  *base.InternalKV
	idx int // source index, used only for stable diagnostics
}

type iterHeap struct {
	cmp   compare.Compare
	items []*heapItem
}

func (h *iterHeap) Len() int { return len(h.items) }
func (h *iterHeap) Less(i, j int) bool {
	return compare.Internal(h.cmp, h.items[i].kv.Key, h.items[j].kv.Key) < 0
}
func (h *iterHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *iterHeap) Push(x any)    { h.items = append(h.items, x.(*heapItem)) }
func (h *iterHeap) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}

// MergingIter merges N point iterators into a single stream in
// internal-key order. It pulls the smallest unseen key across every input
// on each Next call, which is exactly what a k-way merge over already-sorted
// inputs needs — no input is read ahead of where the consumer has gotten to.
type MergingIter struct {
	cmp    compare.Compare
	h      *iterHeap
	inputs []PointIterator
	last   *base.InternalKV
}

// NewMergingIter builds a merging iterator over the given inputs, in
// ascending creation order (oldest first) purely for determinism; the merge
// order itself is entirely decided by internal-key comparison.
func NewMergingIter(cmp compare.Compare, inputs []PointIterator) *MergingIter {
	h := &iterHeap{cmp: cmp}
	for i, it := range inputs {
		if kv := it.First(); kv != nil {
			heap.Push(h, &heapItem{it: it, kv: kv, idx: i})
		}
	}
	heap.Init(h)
	return &MergingIter{cmp: cmp, h: h, inputs: inputs}
}

// Next returns the next internal key/value in ascending internal-key order,
// or nil when every input is exhausted.
func (m *MergingIter) Next() *base.InternalKV {
	if m.h.Len() == 0 {
		m.last = nil
		return nil
	}

	top := heap.Pop(m.h).(*heapItem)
	kv := top.kv

	if next := top.it.Next(); next != nil {
		top.kv = next
		heap.Push(m.h, top)
	}

	m.last = kv
	return kv
}

// Close closes every input iterator, aggregating close errors. It closes
// m.inputs rather than whatever remains on the heap: Next drops an input's
// heapItem the moment that input is exhausted, so after a full drain — what
// every real flush does — the heap is empty and would leave every input
// unclosed.
func (m *MergingIter) Close() error {
	var result *multierror.Error
	for _, it := range m.inputs {
		if err := it.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
