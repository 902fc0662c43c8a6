package gpt

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/sashabaranov/go-openai"
)

// GetAudioText transcribes a voice note. The transcription endpoint wants a
// file on disk, so the payload goes through a temp file.
func (s *Seller) GetAudioText(audio []byte) (string, error) {
	tmpFile, err := os.CreateTemp(s.savePath, "audio_*.ogg")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmpFile.Name())
	defer tmpFile.Close()

	_, err = io.Copy(tmpFile, bytes.NewReader(audio))
	if err != nil {
		return "", fmt.Errorf("failed to copy audio to file: %w", err)
	}

	transcription, err := s.transcribeAudio(tmpFile.Name())
	if err != nil {
		return "", fmt.Errorf("failed to transcribe audio: %w", err)
	}

	return transcription, nil
}

func (s *Seller) transcribeAudio(filePath string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	req := openai.AudioRequest{
		Model:    openai.Whisper1,
		FilePath: filePath,
		Format:   openai.AudioResponseFormatText,
	}

	resp, err := s.client.CreateTranscription(ctx, req)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}
