package bcache

// links holds circular doubly-linked lists over array indices. Indices
// [0, nbuf) are buffers; index nbuf+s is the sentinel head of bucket s.
// head.next is the most recently used buffer, head.prev the least.
//
// A buffer's links are only touched under the lock of the bucket whose list
// it is on, or by the single goroutine that unlinked it.
type links struct {
	nbuf int
	next []int
	prev []int
}

func newLinks(nbuf, nbucket int) links {
	n := nbuf + nbucket
	l := links{
		nbuf: nbuf,
		next: make([]int, n),
		prev: make([]int, n),
	}
	for i := 0; i < n; i++ {
		l.next[i] = i
		l.prev[i] = i
	}
	return l
}

func (l *links) head(s int) int { return l.nbuf + s }

func (l *links) pushFront(s, i int) {
	h := l.head(s)
	l.next[i] = l.next[h]
	l.prev[i] = h
	l.prev[l.next[h]] = i
	l.next[h] = i
}

func (l *links) pushBack(s, i int) {
	h := l.head(s)
	l.prev[i] = l.prev[h]
	l.next[i] = h
	l.next[l.prev[h]] = i
	l.prev[h] = i
}

func (l *links) unlink(i int) {
	l.next[l.prev[i]] = l.next[i]
	l.prev[l.next[i]] = l.prev[i]
	l.next[i] = i
	l.prev[i] = i
}

func (l *links) moveFront(s, i int) {
	l.unlink(i)
	l.pushFront(s, i)
}

// each calls fn for bucket s from most to least recently used until fn
// returns false.
func (l *links) each(s int, fn func(i int) bool) {
	h := l.head(s)
	for i := l.next[h]; i != h; i = l.next[i] {
		if !fn(i) {
			return
		}
	}
}

// eachLRU is each in reverse, least recently used first.
func (l *links) eachLRU(s int, fn func(i int) bool) {
	h := l.head(s)
	for i := l.prev[h]; i != h; i = l.prev[i] {
		if !fn(i) {
			return
		}
	}
}
