// Package ai implements the semantic relevance scorer backed by OpenAI.
package ai

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"unicode"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"piata/matcher-service/internal/match"
	"piata/matcher-service/internal/model"
)

const scorerModel = "gpt-4o-mini"

// OpenAIScorer rates listings against an agent's free-text intent.
//
// Score never fails: any transport error, timeout or unparseable reply maps
// to 0, so an unreliable external signal can never produce a false-positive
// match or notification. Failures are logged and contained here.
type OpenAIScorer struct {
	client openai.Client
}

// NewOpenAIScorer constructs a scorer with a shared client.
func NewOpenAIScorer(apiKey string) *OpenAIScorer {
	return &OpenAIScorer{client: openai.NewClient(option.WithAPIKey(apiKey))}
}

// Score returns an integer in [0, 100] estimating how well the listing
// matches the stated intent. Only called for listings that already passed
// the deterministic filters, to bound external call volume.
func (s *OpenAIScorer) Score(ctx context.Context, intent string, l model.Listing) int {
	prompt := buildScoringPrompt(intent, l)

	response, err := s.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: scorerModel,
		Messages: []openai.ChatCompletionMessageParamUnion{
			{
				OfSystem: &openai.ChatCompletionSystemMessageParam{
					Content: openai.ChatCompletionSystemMessageParamContentUnion{
						OfString: openai.String("You are a marketplace matching assistant. Rate how well a listing matches a buyer's saved search. Respond with a single integer from 0 to 100 and nothing else."),
					},
				},
			},
			{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: openai.ChatCompletionUserMessageParamContentUnion{
						OfString: openai.String(prompt),
					},
				},
			},
		},
		Temperature: openai.Float(0.1),
		MaxTokens:   openai.Int(10),
	})
	if err != nil {
		log.Printf("[ai] scoring listing %d failed: %v — using score 0", l.ID, err)
		return 0
	}

	if len(response.Choices) == 0 {
		log.Printf("[ai] empty completion for listing %d — using score 0", l.ID)
		return 0
	}

	score, err := parseScore(response.Choices[0].Message.Content)
	if err != nil {
		log.Printf("[ai] unparseable score for listing %d: %v — using score 0", l.ID, err)
		return 0
	}

	return score
}

// buildScoringPrompt renders the agent's intent and the listing fields into
// the rating request.
func buildScoringPrompt(intent string, l model.Listing) string {
	var sb strings.Builder
	sb.WriteString("Buyer's saved search:\n")
	sb.WriteString(intent)
	sb.WriteString("\n\nListing:\n")
	sb.WriteString(fmt.Sprintf("Title: %s\n", l.Title))
	sb.WriteString(fmt.Sprintf("Description: %s\n", l.Description))
	sb.WriteString(fmt.Sprintf("Price: %.0f RON\n", l.Price))
	sb.WriteString(fmt.Sprintf("Location: %s\n", l.Location))
	sb.WriteString("\nRate 0-100 how well this listing matches the search, considering intent, price and location. Respond with the integer only.")
	return sb.String()
}

// parseScore extracts the first integer from a completion reply and clamps
// it to [0, 100]. Models occasionally wrap the number in prose or markup.
func parseScore(reply string) (int, error) {
	reply = strings.TrimSpace(reply)
	if n, err := strconv.Atoi(reply); err == nil {
		return match.Clamp(n), nil
	}

	start := -1
	for i, r := range reply {
		if unicode.IsDigit(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			n, err := strconv.Atoi(reply[start:i])
			if err != nil {
				return 0, err
			}
			return match.Clamp(n), nil
		}
	}
	if start >= 0 {
		n, err := strconv.Atoi(reply[start:])
		if err != nil {
			return 0, err
		}
		return match.Clamp(n), nil
	}

	return 0, fmt.Errorf("no integer in reply %q", reply)
}
