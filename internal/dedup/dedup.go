package dedup

const DefaultCapacity = 500

// Buffer remembers the most recent action ids. When full, the oldest id is
// forgotten to make room. Not safe for concurrent use; the dispatcher loop
// owns it.
type Buffer struct {
	ring  []string
	head  int // oldest entry
	count int
	seen  map[string]struct{}
}

func New(capacity int) *Buffer {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		ring: make([]string, capacity),
		seen: make(map[string]struct{}, capacity),
	}
}

// Add records id and reports whether it was new. False means replay.
func (b *Buffer) Add(id string) bool {
	if _, ok := b.seen[id]; ok {
		return false
	}
	c := len(b.ring)
	if b.count < c {
		b.ring[(b.head+b.count)%c] = id
		b.count++
	} else {
		delete(b.seen, b.ring[b.head])
		b.ring[b.head] = id
		b.head = (b.head + 1) % c
	}
	b.seen[id] = struct{}{}
	return true
}

func (b *Buffer) Size() int { return b.count }

func (b *Buffer) Capacity() int { return len(b.ring) }

func (b *Buffer) Clear() {
	clear(b.ring)
	clear(b.seen)
	b.head = 0
	b.count = 0
}
