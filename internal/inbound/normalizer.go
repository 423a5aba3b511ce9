package inbound

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/medassistai/medassist/internal/assistant"
)

// retrievalExts are the document formats the backend can index for search.
var retrievalExts = map[string]bool{
	".pdf": true, ".txt": true, ".md": true, ".doc": true, ".docx": true,
	".rtf": true, ".xls": true, ".xlsx": true, ".csv": true, ".tsv": true,
	".ppt": true, ".pptx": true, ".json": true, ".html": true, ".htm": true,
	".xml": true,
}

var imageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".webp": true, ".bmp": true,
}

var audioExts = map[string]bool{
	".wav": true, ".mp3": true, ".ogg": true, ".oga": true, ".m4a": true,
	".flac": true, ".amr": true,
}

const (
	// PlaceholderTranscript substitutes for a failed or empty transcription
	// so a garbled voice note never fails the whole turn.
	PlaceholderTranscript = "The voice message could not be transcribed automatically."

	defaultInstruction = "Describe your symptoms and attach any test results you have."

	acceptedFormats = "PDF/DOCX/TXT/CSV/XLSX/PPTX/HTML"
)

// Downloader fetches attachment bytes from the chat platform.
type Downloader interface {
	DownloadAttachment(ctx context.Context, fileRef string) ([]byte, error)
}

// Backend is the subset of the assistant API the normalizer needs.
type Backend interface {
	UploadFile(ctx context.Context, name string, data []byte) (string, error)
	Transcribe(ctx context.Context, name string, data []byte) (string, error)
}

// Normalizer turns an inbound unit into a canonical request by strict
// payload precedence: voice, then audio, then document, then photo, then
// plain text. Exactly one branch fires per unit.
type Normalizer struct {
	downloader Downloader
	backend    Backend
	logger     *slog.Logger
}

func NewNormalizer(log *slog.Logger, downloader Downloader, backend Backend) *Normalizer {
	if log == nil {
		log = slog.Default()
	}
	return &Normalizer{
		downloader: downloader,
		backend:    backend,
		logger:     log.With(slog.String("service", "inbound")),
	}
}

// Classify normalizes one unit. Download and upload failures propagate;
// transcription failure degrades to a placeholder transcript and an
// unsupported document degrades to a text-only notice.
func (n *Normalizer) Classify(ctx context.Context, unit Unit) (Request, error) {
	switch {
	case unit.Voice != nil:
		return n.classifyAudio(ctx, unit, unit.Voice.FileRef, "voice.ogg")

	case unit.Audio != nil:
		name := unit.Audio.Name
		if name == "" {
			name = "audio.mp3"
		}
		return n.classifyAudio(ctx, unit, unit.Audio.FileRef, name)

	case unit.Document != nil:
		return n.classifyDocument(ctx, unit)

	case unit.Photo != nil:
		return n.classifyPhoto(ctx, unit, unit.Photo.FileRef, "photo.jpg")
	}

	text := strings.TrimSpace(unit.Text)
	if text == "" {
		text = defaultInstruction
	}
	return Request{Kind: KindText, Text: text}, nil
}

func (n *Normalizer) classifyAudio(ctx context.Context, unit Unit, fileRef, name string) (Request, error) {
	data, err := n.downloader.DownloadAttachment(ctx, fileRef)
	if err != nil {
		return Request{}, fmt.Errorf("download audio: %w", err)
	}

	transcript, err := n.backend.Transcribe(ctx, name, data)
	if err != nil {
		n.logger.Warn("transcription failed, substituting placeholder",
			slog.Int64("chat_id", unit.ChatID), slog.Any("error", err))
		transcript = ""
	}
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		transcript = PlaceholderTranscript
	}

	text := fmt.Sprintf("Voice message transcript (%s):\n%s\n\nAnswer as a medical consultant.", name, transcript)
	return Request{Kind: KindAudioTranscript, Text: withCaption(text, unit.Text)}, nil
}

func (n *Normalizer) classifyDocument(ctx context.Context, unit Unit) (Request, error) {
	doc := unit.Document
	name := doc.Name
	if name == "" {
		name = "document.bin"
	}
	ext := strings.ToLower(filepath.Ext(name))
	mime := strings.ToLower(doc.Mime)

	// Images and audio sent as generic documents take the matching branch.
	if imageExts[ext] || strings.HasPrefix(mime, "image/") {
		return n.classifyPhoto(ctx, unit, doc.FileRef, name)
	}
	if audioExts[ext] || strings.HasPrefix(mime, "audio/") {
		return n.classifyAudio(ctx, unit, doc.FileRef, name)
	}

	if !retrievalExts[ext] {
		n.logger.Info("unsupported document format",
			slog.Int64("chat_id", unit.ChatID), slog.String("name", name))
		text := fmt.Sprintf("The user attached a file %s that cannot be indexed. "+
			"Answer based on the user's description and mention the accepted formats: %s.", name, acceptedFormats)
		return Request{Kind: KindUnsupported, Text: withCaption(text, unit.Text)}, nil
	}

	data, err := n.downloader.DownloadAttachment(ctx, doc.FileRef)
	if err != nil {
		return Request{}, fmt.Errorf("download document: %w", err)
	}
	fileID, err := n.backend.UploadFile(ctx, name, data)
	if err != nil {
		return Request{}, fmt.Errorf("upload document: %w", err)
	}

	text := fmt.Sprintf("Please take the attached document %s into account. Answer as a medical consultant.", name)
	return Request{
		Kind:        KindRetrievalDoc,
		Text:        withCaption(text, unit.Text),
		Attachments: []assistant.FileAttachment{{FileID: fileID}},
	}, nil
}

func (n *Normalizer) classifyPhoto(ctx context.Context, unit Unit, fileRef, name string) (Request, error) {
	data, err := n.downloader.DownloadAttachment(ctx, fileRef)
	if err != nil {
		return Request{}, fmt.Errorf("download photo: %w", err)
	}
	fileID, err := n.backend.UploadFile(ctx, name, data)
	if err != nil {
		return Request{}, fmt.Errorf("upload photo: %w", err)
	}

	text := fmt.Sprintf("Analyze the image %s. Provide a medical comment and recommendations.", name)
	return Request{Kind: KindImage, Text: withCaption(text, unit.Text), ImageFileID: fileID}, nil
}

// withCaption appends the user's caption so it is never silently dropped.
func withCaption(text, caption string) string {
	caption = strings.TrimSpace(caption)
	if caption == "" {
		return text
	}
	return text + "\n\nUser note: " + caption
}
