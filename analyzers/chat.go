package analyzers

import (
	"context"
	_ "embed"
	"log/slog"
	"strings"
)

//go:embed knowledge.md
var knowledge string

const (
	chatFailedReply = "Something went wrong. Use the Feedback button above or email support@krishimitra.in. We'll get back to you."
	maxHistory      = 20
)

// ChatMessage is one prior turn; Role is "user" or "assistant".
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SupportAssistant answers support questions from the product knowledge
// text, replying from keyword rules when the model is unavailable.
type SupportAssistant struct {
	gemini *GeminiClient
	log    *slog.Logger
}

func NewSupportAssistant(gemini *GeminiClient, logger *slog.Logger) *SupportAssistant {
	if logger == nil {
		logger = slog.Default()
	}
	return &SupportAssistant{gemini: gemini, log: logger.With("component", "support_chat")}
}

// Reply never fails: model errors fall back to the keyword replies.
func (a *SupportAssistant) Reply(ctx context.Context, message string, history []ChatMessage) string {
	message = strings.TrimSpace(message)
	if !a.gemini.Configured() {
		return FallbackReply(message)
	}

	if len(history) > maxHistory {
		history = history[len(history)-maxHistory:]
	}
	contents := make([]GeminiContent, 0, len(history)+1)
	for _, m := range history {
		text := strings.TrimSpace(m.Content)
		if text == "" {
			continue
		}
		role := "user"
		if strings.EqualFold(strings.TrimSpace(m.Role), "assistant") {
			role = "model"
		}
		contents = append(contents, GeminiContent{Role: role, Parts: []GeminiPart{{Text: text}}})
	}
	contents = append(contents, GeminiContent{Role: "user", Parts: []GeminiPart{{Text: message}}})

	reply, err := a.gemini.GenerateContent(ctx, GeminiRequest{
		SystemInstruction: &GeminiContent{Parts: []GeminiPart{{Text: knowledge}}},
		Contents:          contents,
		GenerationConfig:  &GeminiGenerationConfig{Temperature: 0.4, MaxOutputTokens: 1024},
	})
	if err != nil {
		a.log.Warn("chat model failed, using fallback", "error", err)
		if r := FallbackReply(message); r != "" {
			return r
		}
		return chatFailedReply
	}
	return reply
}

type fallbackRule struct {
	words []string
	reply string
}

var fallbackRules = []fallbackRule{
	{[]string{"hi", "hello", "hey", "namaste"},
		"Hello! I'm Krishimitra Support. Ask me about the Trust Score, bank or sensor uploads, Crop Analysis, Weather Insurance, Vouchers or Pay-as-you-Grow. " +
			"Use the Feedback button for complaints or ratings, or call 083903 12345 (Mon-Sat, 9 AM - 6 PM)."},
	{[]string{"trust score", "trustscore", "score", "eligib", "loan"},
		"The Trust Score (0-100) is built by completing Profile, Bank Statement, Sensor Readings, Crop Analysis, the Financial Quiz and Weather Insurance. " +
			"A score of 80+ after you click Evaluate my score unlocks loans, Vouchers and Pay-as-you-Grow."},
	{[]string{"contact", "phone", "email", "call", "help", "support", "reach"},
		"Contact Krishimitra: telephone 083903 12345, toll-free 1800 123 4567, email support@krishimitra.in, WhatsApp +91 91234 56789. Helpline: Mon-Sat, 9 AM - 6 PM."},
	{[]string{"bank", "statement", "upload"},
		"Upload your bank statement (PDF, CSV or JSON) from the Bank Statement page. Active accounts earn +20 Trust Score."},
	{[]string{"sensor", "soil", "ph", "moisture", "nitrogen"},
		"Upload sensor or field data (JSON, CSV or PDF) from Sensor Readings. Include pH, moisture and nitrogen for up to 30 Trust Score. Rainfall data is used for Weather Insurance."},
	{[]string{"crop", "photo", "image", "analysis"},
		"Use Crop Analysis to upload a crop photo. The analysis checks health, diseases and pests and suggests what to do next."},
	{[]string{"weather", "rain", "insurance"},
		"Weather Insurance uses the rainfall from your Sensor Readings. Upload sensor data with rainfall first, then run the check on the Weather Insurance page."},
	{[]string{"voucher", "pay-as-you-grow", "milestone"},
		"Vouchers (QR/PIN) and Pay-as-you-Grow (Seeds, then Labor, then Harvest) unlock when your evaluated Trust Score is 80+."},
	{[]string{"feedback", "complaint", "rating"},
		"Use the Feedback button at the top of this chat to send feedback, a complaint or a star rating. Our team will get back to you."},
}

// FallbackReply answers from keyword rules. An empty message yields "".
func FallbackReply(message string) string {
	m := strings.ToLower(strings.TrimSpace(message))
	if m == "" {
		return ""
	}
	for _, rule := range fallbackRules {
		for _, w := range rule.words {
			if strings.Contains(m, w) {
				return rule.reply
			}
		}
	}
	return "I'm here for Krishimitra support. Try asking about the Trust Score, contact details, bank or sensor uploads, Crop Analysis or Weather Insurance. " +
		"You can also use the Feedback button above or email support@krishimitra.in."
}
