package provider

const (
	PlatformAudioPen   = "audiopen"
	PlatformVoiceNotes = "voicenotes"
	PlatformAlfie      = "alfie"
)

// Note is the canonical record every adapter produces. ID is the dedup key
// within a user's buffer.
type Note struct {
	Platform           string         `json:"platform"`
	ID                 string         `json:"id"`
	Title              string         `json:"title"`
	Content            string         `json:"content"`
	OriginalTranscript string         `json:"orig_transcript,omitempty"`
	Tags               []string       `json:"tags"`
	DateCreated        string         `json:"date_created"`
	Timestamp          string         `json:"timestamp,omitempty"`
	Metadata           map[string]any `json:"metadata,omitempty"`
}
