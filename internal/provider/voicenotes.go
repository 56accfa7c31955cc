package provider

// VoiceNotesAdapter handles payloads wrapped in a data object.
type VoiceNotesAdapter struct {
	now Clock
}

func NewVoiceNotesAdapter(now Clock) VoiceNotesAdapter {
	if now == nil {
		now = systemClock
	}
	return VoiceNotesAdapter{now: now}
}

func (VoiceNotesAdapter) Name() string {
	return PlatformVoiceNotes
}

func (VoiceNotesAdapter) Detect(payload map[string]any) bool {
	data, ok := objectAt(payload, "data")
	if !ok {
		return false
	}
	return truthy(data["id"]) && truthy(data["title"]) && truthy(data["transcript"])
}

func (VoiceNotesAdapter) Validate(payload map[string]any) bool {
	return hasRequiredFields(payload, "data.id", "data.title", "data.transcript")
}

func (a VoiceNotesAdapter) Transform(payload map[string]any) Note {
	transcript := stringAt(payload, "data.transcript")
	content := stringAt(payload, "data.summary")
	if content == "" {
		content = transcript
	}
	timestamp := stringAt(payload, "timestamp")
	dateCreated := timestamp
	if dateCreated == "" {
		dateCreated = nowISO(a.now)
	}
	return Note{
		Platform:           PlatformVoiceNotes,
		ID:                 stringAt(payload, "data.id"),
		Title:              stringAt(payload, "data.title"),
		Content:            content,
		OriginalTranscript: transcript,
		Tags:               []string{},
		DateCreated:        dateCreated,
		Timestamp:          timestamp,
	}
}
