package provider

// AudioPenAdapter handles flat payloads carrying a root id plus body or
// orig_transcript.
type AudioPenAdapter struct {
	now Clock
}

func NewAudioPenAdapter(now Clock) AudioPenAdapter {
	if now == nil {
		now = systemClock
	}
	return AudioPenAdapter{now: now}
}

func (AudioPenAdapter) Name() string {
	return PlatformAudioPen
}

func (AudioPenAdapter) Detect(payload map[string]any) bool {
	if payload == nil {
		return false
	}
	return truthy(payload["id"]) &&
		(truthy(payload["body"]) || truthy(payload["orig_transcript"])) &&
		!truthy(payload["data"]) &&
		!truthy(payload["reflection_id"])
}

func (AudioPenAdapter) Validate(payload map[string]any) bool {
	return hasRequiredFields(payload, "id") &&
		(hasRequiredFields(payload, "body") || hasRequiredFields(payload, "orig_transcript"))
}

func (a AudioPenAdapter) Transform(payload map[string]any) Note {
	dateCreated := stringAt(payload, "date_created")
	if dateCreated == "" {
		dateCreated = nowISO(a.now)
	}
	return Note{
		Platform:           PlatformAudioPen,
		ID:                 stringAt(payload, "id"),
		Title:              stringAt(payload, "title"),
		Content:            stringAt(payload, "body"),
		OriginalTranscript: stringAt(payload, "orig_transcript"),
		Tags:               ParseTags(payload["tags"]),
		DateCreated:        dateCreated,
	}
}

// truthy mirrors the loose presence checks webhook senders rely on: empty
// strings, zero numbers, false and null do not count as present.
func truthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case string:
		return v != ""
	case bool:
		return v
	case float64:
		return v != 0
	default:
		return true
	}
}
