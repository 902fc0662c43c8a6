package gpt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"VentaBot/entity"
	"VentaBot/internal/config"
	"VentaBot/internal/lib/sl"

	"github.com/sashabaranov/go-openai"
)

// Turn is one prompt-ready history entry.
type Turn struct {
	Role string // entity.RoleCustomer | entity.RoleAssistant
	Text string
}

// Seller wraps the language-completion service. One instance is shared by
// the aggregator and the follow-up worker.
type Seller struct {
	client      *openai.Client
	chatModel   string
	visionModel string
	timeout     time.Duration
	savePath    string
	log         *slog.Logger
}

func NewSeller(conf *config.Config, logger *slog.Logger) *Seller {
	return &Seller{
		client:      openai.NewClient(conf.OpenAI.ApiKey),
		chatModel:   conf.OpenAI.ChatModel,
		visionModel: conf.OpenAI.VisionModel,
		timeout:     time.Duration(conf.OpenAI.TimeoutSeconds) * time.Second,
		savePath:    "",
		log:         logger.With(sl.Module("seller")),
	}
}

const correctionInstruction = "Your previous answer was not valid JSON matching the required schema. " +
	"Answer again with ONLY a JSON object containing the fields " +
	"message1, message2, message3, photos, report, intent."

// Generate asks the model for a structured reply. A malformed JSON answer is
// retried exactly once with an explicit correction; a second failure or a
// transport error is the caller's problem, never papered over with a
// fallback reply.
func (s *Seller) Generate(instruction string, history []Turn) (entity.AiReply, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	messages := s.buildMessages(instruction, history)

	raw, err := s.complete(ctx, messages)
	if err != nil {
		return entity.AiReply{}, err
	}

	var reply entity.AiReply
	if err = json.Unmarshal([]byte(raw), &reply); err == nil {
		return reply, nil
	}

	s.log.With(
		slog.Int("text_length", len(raw)),
	).Warn("malformed structured reply, retrying once", sl.Err(err))

	messages = append(messages,
		openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: raw},
		openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: correctionInstruction},
	)

	raw, err = s.complete(ctx, messages)
	if err != nil {
		return entity.AiReply{}, err
	}
	if err = json.Unmarshal([]byte(raw), &reply); err != nil {
		return entity.AiReply{}, fmt.Errorf("structured reply still malformed after retry: %w", err)
	}

	return reply, nil
}

// GenerateFollowUp asks for a short plain-text nudge. No retry: a failed
// nudge simply waits for the next poll.
func (s *Seller) GenerateFollowUp(instruction string, history []Turn) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    s.chatModel,
		Messages: s.buildMessages(instruction, history),
	})
	if err != nil {
		return "", fmt.Errorf("follow-up completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("follow-up completion: empty choice list")
	}

	return resp.Choices[0].Message.Content, nil
}

func (s *Seller) buildMessages(instruction string, history []Turn) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: instruction,
	})
	for _, turn := range history {
		role := openai.ChatMessageRoleUser
		if turn.Role == entity.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: turn.Text})
	}
	return messages
}

func (s *Seller) complete(ctx context.Context, messages []openai.ChatCompletionMessage) (string, error) {
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    s.chatModel,
		Messages: messages,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion: empty choice list")
	}

	return resp.Choices[0].Message.Content, nil
}
