// Package answer asks a language model to draft an answer to a question.
package answer

import (
	"context"
	"errors"
	"strings"

	"github.com/nhle/quickans/internal/source"
)

// DefaultPreface is prepended to every question before it is sent to the
// model.
const DefaultPreface = "I am a teaching assistant and a student in my course has posed the following question. What should the answer be? Question: "

// ErrEmptyAnswer is returned when the model produced no text.
var ErrEmptyAnswer = errors.New("model returned an empty answer")

// Completer sends a prompt to a language model and returns its reply.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Generator turns a question body into an answer. It keeps no state
// between calls.
type Generator struct {
	Completer Completer
	Preface   string
}

// New returns a Generator, using DefaultPreface when preface is empty.
func New(c Completer, preface string) *Generator {
	if preface == "" {
		preface = DefaultPreface
	}
	return &Generator{Completer: c, Preface: preface}
}

// Prompt returns the exact text sent to the model for body.
func (g *Generator) Prompt(body string) string {
	return g.Preface + body
}

// Generate returns the model's answer for body. Every failure is a
// source.ServiceError of kind llm so callers can defer the question.
func (g *Generator) Generate(ctx context.Context, body string) (string, error) {
	out, err := g.Completer.Complete(ctx, g.Prompt(body))
	if err != nil {
		return "", source.NewServiceError(source.KindLLM, "complete", err)
	}
	if strings.TrimSpace(out) == "" {
		return "", source.NewServiceError(source.KindLLM, "complete", ErrEmptyAnswer)
	}
	return out, nil
}
