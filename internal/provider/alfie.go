package provider

const alfieDailyReview = "daily-review"

// AlfieAdapter handles reflection payloads. Tags and a fallback title are
// derived from metadata, which is passed through untouched.
type AlfieAdapter struct{}

func NewAlfieAdapter() AlfieAdapter {
	return AlfieAdapter{}
}

func (AlfieAdapter) Name() string {
	return PlatformAlfie
}

func (AlfieAdapter) Detect(payload map[string]any) bool {
	if payload == nil {
		return false
	}
	if !truthy(payload["reflection_id"]) || !truthy(payload["content"]) {
		return false
	}
	_, ok := payload["metadata"].(map[string]any)
	return ok
}

func (AlfieAdapter) Validate(payload map[string]any) bool {
	return hasRequiredFields(payload, "reflection_id", "content", "created_at")
}

func (AlfieAdapter) Transform(payload map[string]any) Note {
	metadata, _ := objectAt(payload, "metadata")
	context := ReadAlfieContext(metadata)

	title := stringAt(payload, "title")
	if title == "" {
		title = alfieTitle(context)
	}
	createdAt := stringAt(payload, "created_at")
	timestamp := context.Timestamp
	if timestamp == "" {
		timestamp = createdAt
	}
	content := stringAt(payload, "content")
	return Note{
		Platform:           PlatformAlfie,
		ID:                 stringAt(payload, "reflection_id"),
		Title:              title,
		Content:            content,
		OriginalTranscript: content,
		Tags:               alfieTags(context),
		DateCreated:        createdAt,
		Timestamp:          timestamp,
		Metadata:           metadata,
	}
}

// AlfieContext is the reflection context resolved from metadata. Flat
// metadata fields win over the legacy conversationContext object.
type AlfieContext struct {
	MessageType   string
	Type          string
	Mood          string
	Needs         string
	Energy        string
	Location      string
	TimeOfDay     string
	TimeAvailable string
	RitualContext string
	Timestamp     string
}

func ReadAlfieContext(metadata map[string]any) AlfieContext {
	if metadata == nil {
		return AlfieContext{}
	}
	legacy, _ := objectAt(metadata, "conversationContext")
	pick := func(field string) string {
		if value := stringAt(metadata, field); value != "" {
			return value
		}
		return stringAt(legacy, field)
	}
	return AlfieContext{
		MessageType:   stringAt(metadata, "messageType"),
		Type:          stringAt(metadata, "type"),
		Mood:          pick("mood"),
		Needs:         pick("needs"),
		Energy:        pick("energy"),
		Location:      stringAt(legacy, "location"),
		TimeOfDay:     stringAt(legacy, "timeOfDay"),
		TimeAvailable: stringAt(legacy, "timeAvailable"),
		RitualContext: stringAt(metadata, "ritualContext"),
		Timestamp:     stringAt(metadata, "timestamp"),
	}
}

func alfieTags(c AlfieContext) []string {
	tags := []string{}
	add := func(prefix, value string) {
		if value != "" {
			tags = append(tags, prefix+value)
		}
	}
	add("type/", c.MessageType)
	if c.Type == alfieDailyReview {
		tags = append(tags, "type/"+alfieDailyReview)
	}
	add("mood/", c.Mood)
	add("needs/", c.Needs)
	add("energy/", c.Energy)
	add("location/", c.Location)
	add("time/", c.TimeOfDay)
	add("duration/", c.TimeAvailable)
	add("ritual/", c.RitualContext)
	return append(tags, "alfie")
}

func alfieTitle(c AlfieContext) string {
	switch {
	case c.Mood != "" && c.Needs != "":
		return c.Mood + " - " + c.Needs
	case c.Mood != "":
		return "Reflection - " + c.Mood
	case c.MessageType != "":
		return c.MessageType + " reflection"
	case c.Type == alfieDailyReview:
		return "Daily Review"
	default:
		return "Alfie Reflection"
	}
}
