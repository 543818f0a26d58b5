package cache

import (
	"sync"
)

// bytesPerKB normalizes entry sizes in the eviction cost.
const bytesPerKB = 1024.0

// evictionSampleSize is the number of tail entries inspected per eviction.
const evictionSampleSize = 5

// memoryLayer is an optional size-bounded front for the on-disk cache.
// Eviction samples the least recently used entries and drops the one with
// the lowest hits-per-KB, so large payloads that are rarely re-read go first.
type memoryLayer struct {
	mu          sync.Mutex
	entries     map[string]*lruNode
	head        *lruNode // Most recently used.
	tail        *lruNode // Least recently used.
	maxBytes    int64
	currentSize int64
}

type lruNode struct {
	path        string
	entry       *Entry
	size        int64
	accessCount int64
	prev        *lruNode
	next        *lruNode
}

func (n *lruNode) evictionCost() float64 {
	sizeKB := max(float64(n.size)/bytesPerKB, 1)

	return float64(n.accessCount) / sizeKB
}

func newMemoryLayer(maxBytes int64) *memoryLayer {
	return &memoryLayer{
		entries:  make(map[string]*lruNode),
		maxBytes: maxBytes,
	}
}

func (l *memoryLayer) get(path string) (*Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	node, ok := l.entries[path]
	if !ok {
		return nil, false
	}

	node.accessCount++
	l.moveToFront(node)

	return node.entry, true
}

// put stores entry under path, replacing any previous value. Entries larger
// than the whole layer are not kept.
func (l *memoryLayer) put(path string, entry *Entry) {
	size := int64(len(entry.Result))

	l.mu.Lock()
	defer l.mu.Unlock()

	if old, ok := l.entries[path]; ok {
		l.unlink(old)
	}

	if size > l.maxBytes {
		return
	}

	for l.currentSize+size > l.maxBytes && l.tail != nil {
		l.evictLowestCost()
	}

	node := &lruNode{path: path, entry: entry, size: size, accessCount: 1}

	l.entries[path] = node
	l.currentSize += size
	l.addToFront(node)
}

func (l *memoryLayer) clear() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = make(map[string]*lruNode)
	l.head = nil
	l.tail = nil
	l.currentSize = 0
}

func (l *memoryLayer) stats() (entries int, size int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.entries), l.currentSize
}

func (l *memoryLayer) moveToFront(node *lruNode) {
	if node == l.head {
		return
	}

	l.removeFromList(node)
	l.addToFront(node)
}

func (l *memoryLayer) addToFront(node *lruNode) {
	node.prev = nil
	node.next = l.head

	if l.head != nil {
		l.head.prev = node
	}

	l.head = node

	if l.tail == nil {
		l.tail = node
	}
}

func (l *memoryLayer) removeFromList(node *lruNode) {
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		l.head = node.next
	}

	if node.next != nil {
		node.next.prev = node.prev
	} else {
		l.tail = node.prev
	}
}

func (l *memoryLayer) unlink(node *lruNode) {
	l.removeFromList(node)
	delete(l.entries, node.path)
	l.currentSize -= node.size
}

func (l *memoryLayer) evictLowestCost() {
	victim := l.tail
	lowest := victim.evictionCost()

	candidate := victim.prev
	for range evictionSampleSize - 1 {
		if candidate == nil {
			break
		}

		cost := candidate.evictionCost()
		if cost < lowest {
			lowest = cost
			victim = candidate
		}

		candidate = candidate.prev
	}

	l.unlink(victim)
}
