// Package compose turns structured dialogue outcomes into natural-language
// replies with a second model pass. The reply is best-effort presentation:
// when the model is unreachable the caller still gets a usable apology line,
// never an error.
package compose

import (
	"context"
	"fmt"
	"strings"

	"github.com/abadojack/whatlanggo"

	"agrichat-backend/internal/common/logger"
	"agrichat-backend/internal/llm"
	"agrichat-backend/internal/memory"
)

// Completer is the slice of llm.Client the composer needs.
type Completer interface {
	ChatCompletion(ctx context.Context, msgs []llm.Message, maxTokens int) (string, error)
}

const maxReplyTokens = 1024

// FallbackReply is returned whenever the model cannot produce a reply.
const FallbackReply = "Sorry, I am having trouble answering right now. Please try again in a moment."

type Composer struct {
	llm          Completer
	fallbackLang string
	logger       logger.Logger
}

func New(completer Completer, fallbackLang string, log logger.Logger) *Composer {
	if fallbackLang == "" {
		fallbackLang = "en"
	}
	return &Composer{
		llm:          completer,
		fallbackLang: fallbackLang,
		logger:       log.With(map[string]interface{}{"component": "compose"}),
	}
}

// Request carries everything the model needs to phrase one reply.
type Request struct {
	UserRole string
	Query    string
	History  []memory.Turn
	// Outcome is the structured result of the routed operation, already
	// resolved against the store. Empty for purely conversational turns.
	Outcome string
}

// Compose phrases a reply in the language of the query. It never returns an
// error; transport or timeout failures degrade to FallbackReply.
func (c *Composer) Compose(ctx context.Context, req Request) string {
	lang := c.detectLanguage(req.Query)

	msgs := make([]llm.Message, 0, len(req.History)+2)
	msgs = append(msgs, llm.Message{Role: "system", Content: c.systemPrompt(req, lang)})
	for _, turn := range req.History {
		msgs = append(msgs, llm.Message{Role: turn.Role, Content: turn.Content})
	}
	msgs = append(msgs, llm.Message{Role: memory.RoleUser, Content: req.Query})

	reply, err := c.llm.ChatCompletion(ctx, msgs, maxReplyTokens)
	if err != nil {
		c.logger.WithError(err).Warn("reply synthesis failed, using fallback", map[string]interface{}{
			"language": lang,
		})
		return FallbackReply
	}

	reply = strings.TrimSpace(reply)
	if reply == "" {
		return FallbackReply
	}
	return reply
}

func (c *Composer) systemPrompt(req Request, lang string) string {
	role := req.UserRole
	if role == "" {
		role = "customer"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are a helpful assistant for an agricultural marketplace. The user is a %s.\n", role)
	fmt.Fprintf(&b, "Answer in the language with ISO 639-3 code %q, briefly and politely.\n", lang)
	if req.Outcome != "" {
		b.WriteString("State the following facts to the user; do not invent prices, quantities or order details beyond them:\n")
		b.WriteString(req.Outcome)
	} else {
		b.WriteString("Only discuss buying and selling farm produce on this marketplace.")
	}
	return b.String()
}

// detectLanguage is best effort. Short or ambiguous text falls back to the
// configured default rather than guessing.
func (c *Composer) detectLanguage(text string) string {
	info := whatlanggo.Detect(text)
	if !info.IsReliable() {
		return c.fallbackLang
	}
	return whatlanggo.LangToString(info.Lang)
}
