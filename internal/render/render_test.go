package render

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loudthoughts/loudthoughts/internal/provider"
)

func TestRenderPlaceholders(t *testing.T) {
	r := Renderer{TagsAsLinks: true, LinkProperty: "day", DateFormat: "YYYY-MM-DD", Location: time.UTC}
	note := provider.Note{
		Platform:           provider.PlatformVoiceNotes,
		ID:                 "v1",
		Title:              "Walk",
		Content:            "line one<br/>line two",
		OriginalTranscript: "raw one\nraw two",
		Tags:               []string{"a", " ", "b "},
		Timestamp:          "2024-05-01T10:00:00Z",
	}
	out := r.Render("{title}|{content}|{body}|{id}|{date_created}|{date_formatted}|{platform}|{linkProperty}\n{tagsAsLinks}\n[{tagsAsTags}]\n{orig_transcript}", note)

	assert.Equal(t, "Walk|line one\nline two|line one\nline two|v1|2024-05-01T10:00:00Z|2024-05-01|voicenotes|day\n"+
		"  - \"[[a]]\"\n  - \"[[b]]\"\n[]\n"+
		"> [!Original Transcript]-\n> \n> raw one\n> raw two", out)
}

func TestRenderTagsAsTags(t *testing.T) {
	r := Renderer{Location: time.UTC}
	out := r.Render("{tagsAsTags}|{tagsAsLinks}|{linkProperty}", provider.Note{Tags: []string{"x", "y"}})
	assert.Equal(t, "  - x\n  - y||x", out)
}

func TestRenderEmptyTranscriptAndUnknownPlaceholders(t *testing.T) {
	out := Renderer{}.Render("a{orig_transcript}b {unknown}", provider.Note{})
	assert.Equal(t, "ab {unknown}", out)
}

func TestRenderIsSinglePass(t *testing.T) {
	out := Renderer{}.Render("{title}/{id}", provider.Note{Title: "{id}", ID: "n1"})
	assert.Equal(t, "{id}/n1", out)
}

func TestRenderAlfieContextPrefersFlatMetadata(t *testing.T) {
	note := provider.Note{
		Platform: provider.PlatformAlfie,
		Metadata: map[string]any{
			"mood":   "calm",
			"energy": "3",
			"conversationContext": map[string]any{
				"mood":          "sad",
				"needs":         "cope",
				"energy":        float64(1),
				"location":      "home",
				"timeOfDay":     "evening",
				"timeAvailable": "10min",
			},
		},
	}
	out := Renderer{}.Render("{mood} {needs} {energy} {location} {timeOfDay} {timeAvailable}", note)
	assert.Equal(t, "calm cope 3 home evening 10min", out)
}

func TestNoteTimeAudioPenDayMonthYear(t *testing.T) {
	loc := time.FixedZone("cet", 3600)
	raw, when, ok := NoteTime(provider.Note{Platform: provider.PlatformAudioPen, DateCreated: "01/02/2024"}, loc)
	require.True(t, ok)
	assert.Equal(t, "2024-02-01T00:00:00+01:00", raw)
	assert.Equal(t, time.February, when.Month())
	assert.Equal(t, 1, when.Day())

	raw, _, ok = NoteTime(provider.Note{Platform: provider.PlatformAudioPen, DateCreated: "2024-03-04T05:06:07.008Z"}, loc)
	require.True(t, ok)
	assert.Equal(t, "2024-03-04T05:06:07Z", raw)

	raw, _, ok = NoteTime(provider.Note{Platform: provider.PlatformAudioPen, DateCreated: "someday"}, loc)
	assert.False(t, ok)
	assert.Equal(t, "someday", raw)
}

func TestNoteTimeFallsBackToDateCreated(t *testing.T) {
	raw, when, ok := NoteTime(provider.Note{Platform: provider.PlatformVoiceNotes, DateCreated: "2024-06-01T08:00:00Z"}, time.UTC)
	require.True(t, ok)
	assert.Equal(t, "2024-06-01T08:00:00Z", raw)
	assert.Equal(t, 8, when.Hour())
}

func TestFormatMoment(t *testing.T) {
	when := time.Date(2024, 3, 2, 15, 4, 5, 0, time.UTC)
	cases := map[string]string{
		"YYYY-MM-DD":            "2024-03-02",
		"DD/MM/YY":              "02/03/24",
		"dddd, MMMM Do YYYY":    "Saturday, March 2nd 2024",
		"ddd D MMM":             "Sat 2 Mar",
		"hh:mm A":               "03:04 PM",
		"HH:mm:ss":              "15:04:05",
		"GGGG-[W]WW":            "2024-W09",
		"[Journal] YYYY/Q":      "Journal 2024/1",
		"YYYY-MM-DD [at] HH:mm": "2024-03-02 at 15:04",
	}
	for pattern, expected := range cases {
		assert.Equal(t, expected, FormatMoment(when, pattern), pattern)
	}
}

func TestDefaultTemplates(t *testing.T) {
	links := Renderer{TagsAsLinks: true}.DefaultTemplate()
	tags := Renderer{}.DefaultTemplate()
	assert.Contains(t, links, "{tagsAsLinks}")
	assert.Contains(t, tags, "{tagsAsTags}")
	assert.Contains(t, links, "audioPenID: {id}")
	assert.Contains(t, tags, "audioPenID: {id}")
}
