package normalizer

import (
	"fmt"
	"log/slog"
	"strings"

	"VentaBot/entity"
	"VentaBot/internal/lib/sl"
)

const (
	placeholderAudio = "voice note received, could not transcribe"
	placeholderMedia = "media received, could not process"
)

// Transcriber turns a voice note into text.
type Transcriber interface {
	GetAudioText(audio []byte) (string, error)
}

// Describer turns a customer photo into a text description.
type Describer interface {
	DescribeImage(imageURL, caption string) (string, error)
}

// Fragment is the normalized output: a plain-text line plus its modality
// tag, ready for buffering.
type Fragment struct {
	Kind string
	Text string
}

// Service converts raw channel events into text fragments. Media failures
// degrade to placeholder text; nothing escapes this boundary as an error.
type Service struct {
	transcriber Transcriber
	describer   Describer
	log         *slog.Logger
}

func New(transcriber Transcriber, describer Describer, log *slog.Logger) *Service {
	return &Service{
		transcriber: transcriber,
		describer:   describer,
		log:         log.With(sl.Module("normalizer")),
	}
}

func (s *Service) Normalize(ev entity.InboundEvent) Fragment {
	switch ev.Kind {
	case entity.KindAudio:
		return Fragment{Kind: entity.KindAudio, Text: s.transcribe(ev)}
	case entity.KindImage:
		return Fragment{Kind: entity.KindImage, Text: s.describe(ev)}
	case entity.KindLocation:
		return Fragment{Kind: entity.KindLocation, Text: formatLocation(ev)}
	case entity.KindDocument:
		return Fragment{Kind: entity.KindDocument, Text: formatDocument(ev)}
	default:
		return Fragment{Kind: entity.KindText, Text: strings.TrimSpace(ev.Text)}
	}
}

func (s *Service) transcribe(ev entity.InboundEvent) string {
	if len(ev.Audio) == 0 || s.transcriber == nil {
		return placeholderAudio
	}

	text, err := s.transcriber.GetAudioText(ev.Audio)
	if err != nil {
		s.log.Warn("transcription failed", sl.Err(err))
		return placeholderAudio
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return placeholderAudio
	}
	return text
}

func (s *Service) describe(ev entity.InboundEvent) string {
	if ev.MediaURL == "" || s.describer == nil {
		return placeholderMedia
	}

	description, err := s.describer.DescribeImage(ev.MediaURL, ev.Text)
	if err != nil {
		s.log.Warn("image description failed", sl.Err(err))
		return placeholderMedia
	}

	description = strings.TrimSpace(description)
	if description == "" {
		return placeholderMedia
	}
	return description
}

func formatLocation(ev entity.InboundEvent) string {
	if !ev.HasCoords {
		return placeholderMedia
	}

	line := fmt.Sprintf("%.6f, %.6f", ev.Latitude, ev.Longitude)
	if name := strings.TrimSpace(ev.Text); name != "" {
		line = fmt.Sprintf("%s (%s)", line, name)
	}
	return line
}

func formatDocument(ev entity.InboundEvent) string {
	caption := strings.TrimSpace(ev.Text)
	if caption != "" {
		return caption
	}
	if ev.Filename != "" {
		return ev.Filename
	}
	return placeholderMedia
}
