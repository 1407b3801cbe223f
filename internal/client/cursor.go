package client

import "draftsync/internal/models"

// LayoutConfig describes how flattened text is laid out on screen: soft wrap
// at WrapWidth columns, tabs expanded to the next TabWidth stop, East Asian
// wide runes occupying two columns.
type LayoutConfig struct {
	WrapWidth int
	TabWidth  int
}

func DefaultLayout() LayoutConfig {
	return LayoutConfig{WrapWidth: 80, TabWidth: 4}
}

// Point is a rendered position: zero-based visual line and column.
type Point struct {
	Line int
	Col  int
}

// CursorOverlay is one peer caret placed on the rendered layout.
type CursorOverlay struct {
	UserID   string
	Username string
	Color    string
	At       Point
}

// Mapper translates between rune offsets in the flattened text and rendered
// points. Peers exchange offsets on the wire; rendering needs points; the
// mapping is only valid for the exact text it was reflowed against, so the
// session reflows after every buffer change before rebuilding overlays.
//
// Not safe for concurrent use; the session's event loop is the only caller.
type Mapper struct {
	layout LayoutConfig

	// points[i] is where the rune at offset i renders; points[len] is the
	// end-of-text caret position.
	points []Point
	length int
}

func NewMapper(layout LayoutConfig) *Mapper {
	if layout.WrapWidth <= 0 {
		layout.WrapWidth = 80
	}
	if layout.TabWidth <= 0 {
		layout.TabWidth = 4
	}
	m := &Mapper{layout: layout}
	m.Reflow("")
	return m
}

// Reflow recomputes the layout for text, replacing the previous mapping.
func (m *Mapper) Reflow(text string) {
	runes := []rune(text)
	pts := make([]Point, 0, len(runes)+1)

	line, col := 0, 0
	for _, r := range runes {
		switch r {
		case '\n':
			pts = append(pts, Point{Line: line, Col: col})
			line++
			col = 0
		case '\t':
			next := (col/m.layout.TabWidth + 1) * m.layout.TabWidth
			if next > m.layout.WrapWidth {
				line++
				col = 0
				next = m.layout.TabWidth
			}
			pts = append(pts, Point{Line: line, Col: col})
			col = next
		default:
			w := runeWidth(r)
			if col+w > m.layout.WrapWidth {
				line++
				col = 0
			}
			pts = append(pts, Point{Line: line, Col: col})
			col += w
		}
	}
	pts = append(pts, Point{Line: line, Col: col})

	m.points = pts
	m.length = len(runes)
}

// Length returns the rune count of the last reflowed text.
func (m *Mapper) Length() int { return m.length }

// OffsetToPoint maps a rune offset to its rendered point. Offsets run 0
// through length inclusive; anything outside reports false.
func (m *Mapper) OffsetToPoint(offset int) (Point, bool) {
	if offset < 0 || offset >= len(m.points) {
		return Point{}, false
	}
	return m.points[offset], true
}

// PointToOffset maps a rendered point back to the nearest valid rune offset,
// preferring the closest line, then the closest column on it. Always returns
// a valid offset.
func (m *Mapper) PointToOffset(pt Point) int {
	best := 0
	for off := 1; off < len(m.points); off++ {
		if closer(m.points[off], m.points[best], pt) {
			best = off
		}
	}
	return best
}

// BuildOverlay places each peer's caret on the current layout. Offsets that
// fall outside the text, as happens when a peer's cursor raced a shrinking
// edit, are skipped rather than clamped somewhere misleading.
func (m *Mapper) BuildOverlay(entries []models.PresenceEntry) []CursorOverlay {
	var out []CursorOverlay
	for _, e := range entries {
		at, ok := m.OffsetToPoint(e.Cursor.Focus)
		if !ok {
			continue
		}
		out = append(out, CursorOverlay{
			UserID:   e.UserID,
			Username: e.Username,
			Color:    e.Color,
			At:       at,
		})
	}
	return out
}

func closer(a, b, target Point) bool {
	la, lb := abs(a.Line-target.Line), abs(b.Line-target.Line)
	if la != lb {
		return la < lb
	}
	return abs(a.Col-target.Col) < abs(b.Col-target.Col)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// wideRanges covers the East Asian blocks rendered double-width. Ambiguous
// width characters count as narrow.
var wideRanges = [][2]rune{
	{0x1100, 0x115F},
	{0x2E80, 0x303E},
	{0x3041, 0x33FF},
	{0x3400, 0x4DBF},
	{0x4E00, 0x9FFF},
	{0xA000, 0xA4CF},
	{0xAC00, 0xD7A3},
	{0xF900, 0xFAFF},
	{0xFE30, 0xFE4F},
	{0xFF00, 0xFF60},
	{0xFFE0, 0xFFE6},
	{0x20000, 0x2FFFD},
	{0x30000, 0x3FFFD},
}

func runeWidth(r rune) int {
	for _, rg := range wideRanges {
		if r >= rg[0] && r <= rg[1] {
			return 2
		}
	}
	return 1
}
