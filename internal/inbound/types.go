// Package inbound classifies one inbound chat unit into a single canonical
// request shape for the run pipeline.
package inbound

import "github.com/medassistai/medassist/internal/assistant"

// Voice is a voice note recorded in the chat client.
type Voice struct {
	FileRef string
}

// Audio is an uploaded audio file.
type Audio struct {
	FileRef string
	Name    string
}

// Document is an uploaded file of any kind.
type Document struct {
	FileRef string
	Name    string
	Mime    string
}

// Photo is an inline image.
type Photo struct {
	FileRef string
}

// Unit is one inbound message. At most one payload pointer is set; Text
// alone means a plain text message, and doubles as the caption when a
// payload is present.
type Unit struct {
	ChatID    int64
	MessageID int64
	Text      string
	Voice    *Voice
	Audio    *Audio
	Document *Document
	Photo    *Photo
}

// ContentType names the payload for the message log, by the same
// precedence Classify uses.
func (u Unit) ContentType() string {
	switch {
	case u.Voice != nil:
		return "voice"
	case u.Audio != nil:
		return "audio"
	case u.Document != nil:
		return "document"
	case u.Photo != nil:
		return "photo"
	}
	return "text"
}

// AttachmentName returns the logged attachment label, "" for plain text.
func (u Unit) AttachmentName() string {
	switch {
	case u.Voice != nil:
		return "voice"
	case u.Audio != nil:
		if u.Audio.Name != "" {
			return u.Audio.Name
		}
		return "audio"
	case u.Document != nil:
		if u.Document.Name != "" {
			return u.Document.Name
		}
		return "document"
	case u.Photo != nil:
		return "photo"
	}
	return ""
}

// Kind tags the canonical request shape a unit normalized into.
type Kind string

const (
	KindText            Kind = "text"
	KindImage           Kind = "image"
	KindAudioTranscript Kind = "audio-transcript"
	KindRetrievalDoc    Kind = "retrieval-doc"
	KindUnsupported     Kind = "unsupported"
)

// Request is the normalized turn. Text is never empty; ImageFileID is set
// only for KindImage and Attachments only for KindRetrievalDoc.
type Request struct {
	Kind        Kind
	Text        string
	ImageFileID string
	Attachments []assistant.FileAttachment
}

// Message converts the request into the backend message shape.
func (r Request) Message() assistant.UserMessage {
	return assistant.UserMessage{
		Text:        r.Text,
		ImageFileID: r.ImageFileID,
		Attachments: r.Attachments,
	}
}
