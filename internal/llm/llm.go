// Package llm talks to the hosted generative model that voices personas.
package llm

import (
	"context"
	"errors"
)

// Role tags a history turn for the model.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Turn is one prior exchange in the history sent with a request.
type Turn struct {
	Role    Role
	Content string
}

// Request asks the model to answer Prompt in the voice of Persona.
type Request struct {
	APIKey  string
	Prompt  string
	Persona string
	History []Turn
}

// Response always carries displayable text, even alongside an error.
type Response struct {
	Text string
}

// Generator produces persona replies. Implementations never retry; on failure
// they return a fallback Response together with the error.
type Generator interface {
	Generate(ctx context.Context, req Request) (Response, error)
}

// Fallback texts.
const (
	FallbackNoCandidate = "I'm not sure how to respond to that."
	FallbackAPIError    = "Sorry, I encountered an error while processing your request."
	FallbackNetwork     = "I'm having trouble connecting right now. Please try again later."
)

// Errors returned by generators.
var (
	ErrMissingAPIKey = errors.New("api key is required")
	ErrAPI           = errors.New("model api reported an error")
	ErrNetwork       = errors.New("model api unreachable")
)

// SystemPrompt is the instruction placed before the history.
func SystemPrompt(persona string) string {
	return "You are roleplaying as " + persona + ". Respond to the user as this character would. Keep responses concise (under 3 sentences)."
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req Request) (Response, error)

func (f GeneratorFunc) Generate(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}
