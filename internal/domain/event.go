// Package domain holds the typed records shared by the scan, queue and
// delivery components.
package domain

import (
	"strconv"
	"strings"
)

// UpdateEvent is one entry of the source's "latest updates" listing.
// It is derived on every scan and never persisted as such.
type UpdateEvent struct {
	SerialID int64
	Name     string
	Season   string
	Episode  string
	Voice    string // empty when the listing names no voice track
	// URL is the serial's detail page as linked from the listing.
	URL string
}

// Fingerprint identifies the event by serial, season, episode and voice.
// Name is not part of it: a renamed serial is still the same release.
func (e UpdateEvent) Fingerprint() string {
	var b strings.Builder
	b.WriteString(strconv.FormatInt(e.SerialID, 10))
	b.WriteByte('_')
	b.WriteString(e.Season)
	b.WriteByte('_')
	b.WriteString(e.Episode)
	b.WriteByte('_')
	b.WriteString(e.Voice)
	return b.String()
}

func (e UpdateEvent) Validate() error {
	if e.SerialID <= 0 {
		return missing("update_event", "serial_id")
	}
	if strings.TrimSpace(e.Episode) == "" {
		return missing("update_event", "episode")
	}
	return nil
}

// WatermarkID is the fixed key of the watermark singleton.
const WatermarkID = "last_update"

// Watermark is the fingerprint of the last fully fanned-out event.
// An empty Hash means no cycle has completed yet.
type Watermark struct {
	Hash string
}

func (w Watermark) Present() bool { return w.Hash != "" }
