package surface

import "sync"

// Origin tags a buffer mutation with its provenance at the point of
// mutation. Remote-origin changes must never be re-broadcast as local ones;
// carrying the origin on the change event itself (instead of a shared
// "suppressing" flag) removes any window where the two could be confused.
type Origin int

const (
	OriginLocal Origin = iota
	OriginRemote
)

func (o Origin) String() string {
	switch o {
	case OriginLocal:
		return "local"
	case OriginRemote:
		return "remote"
	default:
		return "unknown"
	}
}

// Change is one whole-text mutation of the buffer.
type Change struct {
	Text   string
	Origin Origin
}

// Buffer is a flattened-text editable surface: the host the sync engine
// observes. It holds the visible text, the local selection, and the change
// and selection listeners. Offsets are rune counts into the flattened text.
//
// The buffer is safe for concurrent use. Listeners run synchronously inside
// the mutating call, in registration order, after the internal lock is
// released; the origin travels with the change event, so there is no gap in
// which provenance could be lost.
type Buffer struct {
	mu            sync.Mutex
	text          []rune
	anchor, focus int

	changeListeners    []func(Change)
	selectionListeners []func(anchor, focus int)
}

func NewBuffer(initial string) *Buffer {
	return &Buffer{text: []rune(initial)}
}

// OnChange registers a listener for text mutations.
func (b *Buffer) OnChange(fn func(Change)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.changeListeners = append(b.changeListeners, fn)
}

// OnSelection registers a listener for selection moves.
func (b *Buffer) OnSelection(fn func(anchor, focus int)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.selectionListeners = append(b.selectionListeners, fn)
}

// Text returns the current flattened text.
func (b *Buffer) Text() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.text)
}

// Len returns the text length in runes.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.text)
}

// Selection returns the current anchor and focus offsets.
func (b *Buffer) Selection() (anchor, focus int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.anchor, b.focus
}

// Replace swaps the entire text, stamping the change with its origin. The
// selection is clamped to the new length rather than reset, so replacing
// text under a user does not teleport their caret.
func (b *Buffer) Replace(text string, origin Origin) {
	b.mu.Lock()
	b.text = []rune(text)
	b.anchor = clamp(b.anchor, len(b.text))
	b.focus = clamp(b.focus, len(b.text))
	notify := b.changeNotification(origin)
	b.mu.Unlock()

	notify()
}

// SetSelection moves the local caret/selection.
func (b *Buffer) SetSelection(anchor, focus int) {
	b.mu.Lock()
	b.anchor = clamp(anchor, len(b.text))
	b.focus = clamp(focus, len(b.text))
	notify := b.selectionNotification()
	b.mu.Unlock()

	notify()
}

// InsertAt inserts s at a rune offset as a local edit and places the caret
// after the inserted text.
func (b *Buffer) InsertAt(offset int, s string) {
	b.mu.Lock()
	offset = clamp(offset, len(b.text))
	inserted := []rune(s)
	next := make([]rune, 0, len(b.text)+len(inserted))
	next = append(next, b.text[:offset]...)
	next = append(next, inserted...)
	next = append(next, b.text[offset:]...)
	b.text = next
	caret := offset + len(inserted)
	b.anchor, b.focus = caret, caret
	notifyChange := b.changeNotification(OriginLocal)
	notifySelection := b.selectionNotification()
	b.mu.Unlock()

	notifyChange()
	notifySelection()
}

// Append adds s at the end of the buffer as a local edit.
func (b *Buffer) Append(s string) {
	b.mu.Lock()
	end := len(b.text)
	b.mu.Unlock()
	b.InsertAt(end, s)
}

// DeleteRange removes [from, to) as a local edit and collapses the caret to
// the start of the removed range.
func (b *Buffer) DeleteRange(from, to int) {
	b.mu.Lock()
	from = clamp(from, len(b.text))
	to = clamp(to, len(b.text))
	if to < from {
		from, to = to, from
	}
	next := make([]rune, 0, len(b.text)-(to-from))
	next = append(next, b.text[:from]...)
	next = append(next, b.text[to:]...)
	b.text = next
	b.anchor, b.focus = from, from
	notifyChange := b.changeNotification(OriginLocal)
	notifySelection := b.selectionNotification()
	b.mu.Unlock()

	notifyChange()
	notifySelection()
}

// changeNotification captures the change event and listener list under the
// lock and returns a closure that delivers them after release.
func (b *Buffer) changeNotification(origin Origin) func() {
	change := Change{Text: string(b.text), Origin: origin}
	listeners := append([]func(Change){}, b.changeListeners...)
	return func() {
		for _, fn := range listeners {
			fn(change)
		}
	}
}

func (b *Buffer) selectionNotification() func() {
	a, f := b.anchor, b.focus
	listeners := append([]func(anchor, focus int){}, b.selectionListeners...)
	return func() {
		for _, fn := range listeners {
			fn(a, f)
		}
	}
}

func clamp(v, max int) int {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}
