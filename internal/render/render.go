// Package render turns buffered notes into markdown documents.
package render

import (
	_ "embed"
	"strings"
	"time"

	"github.com/loudthoughts/loudthoughts/internal/provider"
)

const (
	DefaultDateFormat   = "YYYY-MM-DD"
	DefaultLinkProperty = "x"
)

var (
	//go:embed templates/links.md
	linksTemplate string
	//go:embed templates/tags.md
	tagsTemplate string
)

// Renderer substitutes note fields into template placeholders. Substitution
// is literal and single pass: text inserted for one placeholder is never
// scanned for another.
type Renderer struct {
	TagsAsLinks  bool
	LinkProperty string
	// DateFormat is a moment-style pattern for {date_formatted}.
	DateFormat string
	// Location is used for dates that carry no zone. Defaults to time.Local.
	Location *time.Location
}

// DefaultTemplate is the built-in template for the configured tag style.
func (r Renderer) DefaultTemplate() string {
	if r.TagsAsLinks {
		return linksTemplate
	}
	return tagsTemplate
}

func (r Renderer) Render(template string, note provider.Note) string {
	stamp, when, ok := NoteTime(note, r.location())
	formatted := ""
	if ok {
		format := r.DateFormat
		if strings.TrimSpace(format) == "" {
			format = DefaultDateFormat
		}
		formatted = FormatMoment(when, format)
	}
	linkProperty := r.LinkProperty
	if linkProperty == "" {
		linkProperty = DefaultLinkProperty
	}
	var tagsAsLinks, tagsAsTags string
	if r.TagsAsLinks {
		tagsAsLinks = tagLines(note.Tags, `  - "[[`, `]]"`)
	} else {
		tagsAsTags = tagLines(note.Tags, "  - ", "")
	}
	content := NormalizeContent(note.Content)
	context := provider.ReadAlfieContext(note.Metadata)

	replacer := strings.NewReplacer(
		"{title}", note.Title,
		"{content}", content,
		"{body}", content,
		"{id}", note.ID,
		"{date_created}", stamp,
		"{date_formatted}", formatted,
		"{linkProperty}", linkProperty,
		"{tagsAsLinks}", tagsAsLinks,
		"{tagsAsTags}", tagsAsTags,
		"{platform}", note.Platform,
		"{mood}", context.Mood,
		"{needs}", context.Needs,
		"{energy}", context.Energy,
		"{location}", context.Location,
		"{timeOfDay}", context.TimeOfDay,
		"{timeAvailable}", context.TimeAvailable,
		"{orig_transcript}", transcriptCallout(note.OriginalTranscript),
	)
	return replacer.Replace(template)
}

func (r Renderer) location() *time.Location {
	if r.Location == nil {
		return time.Local
	}
	return r.Location
}

// NormalizeContent converts the <br/> line breaks some platforms send.
func NormalizeContent(content string) string {
	return strings.ReplaceAll(content, "<br/>", "\n")
}

func tagLines(tags []string, prefix, suffix string) string {
	lines := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		lines = append(lines, prefix+tag+suffix)
	}
	return strings.Join(lines, "\n")
}

func transcriptCallout(transcript string) string {
	if transcript == "" {
		return ""
	}
	return "> [!Original Transcript]-\n> \n> " + strings.ReplaceAll(transcript, "\n", "\n> ")
}

// NoteTime resolves the moment a note was created. AudioPen reports a
// DD/MM/YYYY date; the other platforms an ISO timestamp. The returned string
// is what {date_created} renders; ok is false when no time could be parsed.
func NoteTime(note provider.Note, loc *time.Location) (string, time.Time, bool) {
	if loc == nil {
		loc = time.Local
	}
	if note.Platform == provider.PlatformAudioPen {
		if t, ok := parseDayMonthYear(note.DateCreated, loc); ok {
			return t.Format(time.RFC3339), t, true
		}
		if t, ok := parseISO(note.DateCreated, loc); ok {
			return t.Format(time.RFC3339), t, true
		}
		return note.DateCreated, time.Time{}, false
	}
	raw := note.Timestamp
	if raw == "" {
		raw = note.DateCreated
	}
	t, ok := parseISO(raw, loc)
	return raw, t, ok
}

func parseDayMonthYear(value string, loc *time.Location) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	if i := strings.IndexAny(value, " T"); i > 0 {
		value = value[:i]
	}
	t, err := time.ParseInLocation("2/1/2006", value, loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseISO(value string, loc *time.Location) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range isoLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
