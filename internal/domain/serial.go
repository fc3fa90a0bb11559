package domain

import (
	"strings"
	"time"
)

// Serial is a catalogue record imported from the source.
type Serial struct {
	ID          int64
	Title       string
	OriginTitle string
	URL         string
	Year        int // 0 when unknown
	Voices      []string
	Finished    bool
	Updated     time.Time
}

// SearchField is the lower-cased text matched by title search.
func (s Serial) SearchField() string {
	f := strings.ToLower(strings.TrimSpace(s.Title))
	if o := strings.TrimSpace(s.OriginTitle); o != "" {
		f += " " + strings.ToLower(o)
	}
	return f
}

func (s Serial) Validate() error {
	if s.ID <= 0 {
		return missing("serial", "id")
	}
	if strings.TrimSpace(s.Title) == "" {
		return missing("serial", "title")
	}
	return nil
}

// HasVoice reports whether the serial lists the given voice track.
func (s Serial) HasVoice(voice string) bool {
	for _, v := range s.Voices {
		if v == voice {
			return true
		}
	}
	return false
}
