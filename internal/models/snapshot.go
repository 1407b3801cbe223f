package models

import "time"

// CharPosition identifies where a character was authored: which site wrote
// it, that site's counter at the time, and a wall-clock stamp for
// tie-breaking. Wire field names match the original storage format.
type CharPosition struct {
	SiteID    string  `json:"site_id"`
	Counter   int     `json:"counter"`
	Timestamp float64 `json:"timestamp"` // seconds since epoch, fractional
}

// TaggedCharacter is one character of document text together with its
// authorship provenance. Deleted characters are kept as tombstones.
type TaggedCharacter struct {
	Value    string       `json:"value"`
	Position CharPosition `json:"position"`
	Deleted  bool         `json:"deleted"`
}

// Snapshot is the full state of a document as the sync engine sees it.
//
// Text is authoritative for rendering and for applying remote updates.
// Characters is best-effort provenance carried for forward compatibility
// with a real merge; it is transmitted but never consulted on apply. That
// asymmetry is deliberate and load-bearing: changing it changes the
// system's convergence behavior.
type Snapshot struct {
	Text       string
	Version    int64 // wall-clock milliseconds at capture
	Characters []TaggedCharacter
}

// TagText builds the per-character provenance array for text authored by
// siteID right now: each character tagged with the site id, its index as the
// counter, and the current time. This is not a logical clock.
func TagText(text, siteID string) []TaggedCharacter {
	now := float64(time.Now().UnixNano()) / float64(time.Second)
	runes := []rune(text)

	chars := make([]TaggedCharacter, len(runes))
	for i, r := range runes {
		chars[i] = TaggedCharacter{
			Value: string(r),
			Position: CharPosition{
				SiteID:    siteID,
				Counter:   i,
				Timestamp: now,
			},
		}
	}
	return chars
}

// CaptureSnapshot tags text with provenance and stamps a version.
func CaptureSnapshot(text, siteID string) Snapshot {
	return Snapshot{
		Text:       text,
		Version:    time.Now().UnixMilli(),
		Characters: TagText(text, siteID),
	}
}

// FlattenCharacters reassembles visible text from a character array,
// skipping tombstones. Used when a stored document carries characters but
// no flattened text.
func FlattenCharacters(chars []TaggedCharacter) string {
	var out []rune
	for _, c := range chars {
		if c.Deleted {
			continue
		}
		out = append(out, []rune(c.Value)...)
	}
	return string(out)
}
