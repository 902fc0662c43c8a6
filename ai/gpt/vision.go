package gpt

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

// DescribeImage asks the vision model for a one-paragraph description of a
// customer-sent photo. The caption, when present, is passed along since it
// often carries the actual question.
func (s *Seller) DescribeImage(imageURL, caption string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	prompt := "Describe briefly what this customer photo shows."
	if caption != "" {
		prompt = fmt.Sprintf("%s The customer wrote: %q", prompt, caption)
	}

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.visionModel,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: prompt},
					{
						Type:     openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{URL: imageURL},
					},
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("vision completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("vision completion: empty choice list")
	}

	return resp.Choices[0].Message.Content, nil
}
