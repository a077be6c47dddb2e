// Package ilist implements an ordered, doubly-linked list in the style of
// the source kernel's intrusive list: a sentinel root so push and remove
// never special-case the empty list, O(1) removal given an *Elem, and
// callers that hold onto their own *Elem (kthread.Thread.readyElem) rather
// than re-searching the list to remove themselves. Unlike the source
// kernel's list, Elem is a separate node carrying a value any — a genuine
// embedded-link list in Go needs either unsafe.Pointer arithmetic to
// recover the owning struct from the link field's address, or a generic
// container_of accessor, and neither pulls its weight against one small
// allocation per list membership here. The scheduler's ready queue, the
// sleep list, and every lock's waiter list are all built on top of it.
package ilist

// Elem is one list node, allocated by PushFront/PushBack/InsertOrdered and
// returned to the caller so it can be held onto for O(1) removal.
type Elem struct {
	prev, next *Elem
	list       *List
	value      any
}

// Value returns the payload this element was pushed with.
func (e *Elem) Value() any { return e.value }

// Linked reports whether e is currently a member of some list.
func (e *Elem) Linked() bool { return e.list != nil }

// List is an intrusive doubly-linked list with a sentinel root, so push
// and remove never need to special-case the empty list.
type List struct {
	root Elem
	len  int
}

// New returns an empty, ready-to-use list.
func New() *List {
	l := &List{}
	l.root.next = &l.root
	l.root.prev = &l.root
	return l
}

// Len returns the number of linked elements.
func (l *List) Len() int { return l.len }

// Empty reports whether the list has no elements.
func (l *List) Empty() bool { return l.len == 0 }

func (l *List) lazyInit() {
	if l.root.next == nil {
		l.root.next = &l.root
		l.root.prev = &l.root
	}
}

func (l *List) insertAfter(e, at *Elem) *Elem {
	n := at.next
	at.next = e
	e.prev = at
	e.next = n
	n.prev = e
	e.list = l
	l.len++
	return e
}

// PushFront inserts a new element carrying value at the front of the list.
func (l *List) PushFront(value any) *Elem {
	l.lazyInit()
	e := &Elem{value: value}
	return l.insertAfter(e, &l.root)
}

// PushBack inserts a new element carrying value at the back of the list.
func (l *List) PushBack(value any) *Elem {
	l.lazyInit()
	e := &Elem{value: value}
	return l.insertAfter(e, l.root.prev)
}

// Remove unlinks e from l. O(1). A no-op if e is not currently linked
// into l.
func (l *List) Remove(e *Elem) {
	if e.list != l {
		return
	}
	e.prev.next = e.next
	e.next.prev = e.prev
	e.next = nil
	e.prev = nil
	e.list = nil
	l.len--
}

// Front returns the first element, or nil if the list is empty.
func (l *List) Front() *Elem {
	l.lazyInit()
	if l.len == 0 {
		return nil
	}
	return l.root.next
}

// Back returns the last element, or nil if the list is empty.
func (l *List) Back() *Elem {
	l.lazyInit()
	if l.len == 0 {
		return nil
	}
	return l.root.prev
}

// PopFront removes and returns the first element's value, or nil if empty.
func (l *List) PopFront() any {
	e := l.Front()
	if e == nil {
		return nil
	}
	v := e.value
	l.Remove(e)
	return v
}

// Next returns the element following e, or nil at the end of the list.
func (l *List) Next(e *Elem) *Elem {
	if n := e.next; l.len > 0 && n != &l.root {
		return n
	}
	return nil
}

// Less compares two element values for ordering purposes; a < b.
type Less func(a, b any) bool

// InsertOrdered inserts value into the list, walking from the front, so
// that the list remains sorted by less (ties keep existing insertion
// order, i.e. the new element lands after any equal elements already
// present — this is what gives the ready queue and sleep list their FIFO
// tie-break).
func (l *List) InsertOrdered(value any, less Less) *Elem {
	l.lazyInit()
	e := &Elem{value: value}
	at := &l.root
	for cur := l.root.next; cur != &l.root; cur = cur.next {
		if less(value, cur.value) {
			break
		}
		at = cur
	}
	return l.insertAfter(e, at)
}

// ForEach calls fn with the value of every element, front to back. fn must
// not mutate the list.
func (l *List) ForEach(fn func(value any)) {
	l.lazyInit()
	for cur := l.root.next; cur != &l.root; cur = cur.next {
		fn(cur.value)
	}
}

// Values returns a snapshot slice of every element's value, front to back.
func (l *List) Values() []any {
	out := make([]any, 0, l.len)
	l.ForEach(func(v any) { out = append(out, v) })
	return out
}
