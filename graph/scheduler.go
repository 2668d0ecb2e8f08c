package graph

import (
	"container/heap"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"sync"
	"sync/atomic"
)

// WorkItem is a schedulable unit in the execution frontier: one node, waiting to
// run against one state snapshot. OrderKey gives it a position in the
// deterministic min-heap regardless of which goroutine produced it or when.
type WorkItem struct {
	StepID   int
	OrderKey uint64
	NodeID   string
	State    State
	Attempt  int

	ParentNodeID string
	EdgeIndex    int
}

// ComputeOrderKey derives a deterministic sort key from the edge a work item
// travelled: hash(parentNodeID, edgeIndex), truncated to the first 8 bytes of the
// SHA-256 digest. Two work items produced by the same edge in two different runs
// always sort identically, which is what Testable Property 1's "order never
// matters beyond node ID" guarantee is built on at the scheduling layer.
func ComputeOrderKey(parentNodeID string, edgeIndex int) uint64 {
	h := sha256.New()
	h.Write([]byte(parentNodeID))
	edgeBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(edgeBytes, uint32(edgeIndex))
	h.Write(edgeBytes)
	sum := h.Sum(nil)
	return binary.BigEndian.Uint64(sum[:8])
}

// workHeap implements heap.Interface, keeping WorkItems ordered by OrderKey.
type workHeap []WorkItem

func (h workHeap) Len() int            { return len(h) }
func (h workHeap) Less(i, j int) bool  { return h[i].OrderKey < h[j].OrderKey }
func (h workHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *workHeap) Push(x interface{}) { *h = append(*h, x.(WorkItem)) }
func (h *workHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[0 : n-1]
	return item
}

// Frontier is the bounded, deterministically-ordered work queue a super-step
// drains before merging its results (spec.md §4.3). A priority heap gives
// deterministic dequeue order; a buffered channel of the same capacity gives
// backpressure: Enqueue blocks once the queue is full until a Dequeue drains it
// or ctx is cancelled.
type Frontier struct {
	heap     workHeap
	queue    chan WorkItem
	capacity int
	mu       sync.Mutex

	totalEnqueued      atomic.Int64
	totalDequeued      atomic.Int64
	backpressureEvents atomic.Int32
	peakQueueDepth     atomic.Int32
}

// NewFrontier creates an empty Frontier with the given bounded capacity.
func NewFrontier(capacity int) *Frontier {
	f := &Frontier{
		heap:     make(workHeap, 0),
		queue:    make(chan WorkItem, capacity),
		capacity: capacity,
	}
	heap.Init(&f.heap)
	return f
}

// Enqueue adds item to the frontier. It blocks while the queue is at capacity
// (backpressure, spec.md §5 "System MUST implement backpressure by blocking
// admission when frontier queue reaches QueueDepth capacity") and returns ctx's
// error if cancelled first.
func (f *Frontier) Enqueue(ctx context.Context, item WorkItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	heap.Push(&f.heap, item)
	depth := int32(f.heap.Len())
	f.mu.Unlock()

	for {
		peak := f.peakQueueDepth.Load()
		if depth <= peak || f.peakQueueDepth.CompareAndSwap(peak, depth) {
			break
		}
	}
	if depth >= int32(f.capacity) {
		f.backpressureEvents.Add(1)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case f.queue <- item:
		f.totalEnqueued.Add(1)
		return nil
	}
}

// Dequeue blocks until a work item is available or ctx is cancelled, then returns
// the item with the smallest OrderKey currently queued.
func (f *Frontier) Dequeue(ctx context.Context) (WorkItem, error) {
	var zero WorkItem
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-f.queue:
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.heap.Len() == 0 {
			return zero, context.Canceled
		}
		item := heap.Pop(&f.heap).(WorkItem)
		f.totalDequeued.Add(1)
		return item, nil
	}
}

// Len reports the current number of queued work items.
func (f *Frontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.heap.Len()
}

// SchedulerMetrics is a point-in-time snapshot of frontier throughput
// counters, returned by Frontier.Metrics.
type SchedulerMetrics struct {
	ActiveNodes        int32
	QueueDepth         int32
	QueueCapacity      int32
	TotalSteps         int64
	TotalEnqueued      int64
	TotalDequeued      int64
	BackpressureEvents int32
	PeakActiveNodes    int32
	PeakQueueDepth     int32
}

// Metrics returns a snapshot of the frontier's own counters. The frontier
// does not track in-flight execution, so ActiveNodes, TotalSteps and
// PeakActiveNodes are left zero.
func (f *Frontier) Metrics() SchedulerMetrics {
	f.mu.Lock()
	depth := int32(f.heap.Len())
	f.mu.Unlock()

	return SchedulerMetrics{
		QueueDepth:         depth,
		QueueCapacity:      int32(f.capacity),
		TotalEnqueued:      f.totalEnqueued.Load(),
		TotalDequeued:      f.totalDequeued.Load(),
		BackpressureEvents: f.backpressureEvents.Load(),
		PeakQueueDepth:     f.peakQueueDepth.Load(),
	}
}
