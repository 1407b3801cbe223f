package client

import "draftsync/internal/surface"

// ChangeDetector decides which surface changes are broadcastable local
// edits. It consumes remote-origin notifications silently (re-baselining on
// them) and filters no-op local notifications, so a remotely applied text
// can never loop back out as a fresh local update. This is the sole guard
// against local→remote→local echo storms.
//
// Not safe for concurrent use: the session's event loop is the only caller.
type ChangeDetector struct {
	lastText string

	localAccepted int
	remoteSeen    int
	unchanged     int
}

func NewChangeDetector() *ChangeDetector {
	return &ChangeDetector{}
}

// Observe classifies one surface change. It returns true only for a
// local-origin change whose text differs from the last observed text; that
// change should be serialized and sent.
func (d *ChangeDetector) Observe(ch surface.Change) bool {
	if ch.Origin == surface.OriginRemote {
		// Remote application becomes the new comparison baseline; it is
		// never re-broadcast.
		d.lastText = ch.Text
		d.remoteSeen++
		return false
	}

	if ch.Text == d.lastText {
		d.unchanged++
		return false
	}

	d.lastText = ch.Text
	d.localAccepted++
	return true
}

// SetBaseline primes the comparison text, typically from the init snapshot.
func (d *ChangeDetector) SetBaseline(text string) {
	d.lastText = text
}

// LastText returns the current comparison baseline.
func (d *ChangeDetector) LastText() string {
	return d.lastText
}

// DetectorStats are counters for logging and tests.
type DetectorStats struct {
	LocalAccepted int
	RemoteSeen    int
	Unchanged     int
}

func (d *ChangeDetector) Stats() DetectorStats {
	return DetectorStats{
		LocalAccepted: d.localAccepted,
		RemoteSeen:    d.remoteSeen,
		Unchanged:     d.unchanged,
	}
}
