package provider

import (
	"errors"
	"fmt"
)

// Message is one chat turn in an OpenAI-compatible completion request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

// ChatRequest is the OpenAI-compatible chat completion request.
type ChatRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    *float64        `json:"temperature,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// errorBody is the provider's error envelope.
type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// Model represents a model entry returned by the /models endpoint.
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created,omitempty"`
	OwnedBy string `json:"owned_by,omitempty"`
	Active  *bool  `json:"active,omitempty"`
}

// ModelList is the response from /models.
type ModelList struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}

// Kind classifies a failed provider call.
type Kind int

const (
	KindOther Kind = iota
	KindRateLimit
	KindAuth
	KindModelUnavailable
	KindMalformed
)

func (k Kind) String() string {
	switch k {
	case KindRateLimit:
		return "rate_limit"
	case KindAuth:
		return "auth"
	case KindModelUnavailable:
		return "model_unavailable"
	case KindMalformed:
		return "malformed"
	default:
		return "other"
	}
}

// Error is returned for every non-2xx provider response and for bodies that
// fail validation.
type Error struct {
	Kind    Kind
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s (HTTP %d): %s", e.Kind, e.Status, e.Message)
}

// RetryHint is the human-readable retry message for rate-limit errors.
func (e *Error) RetryHint() string {
	if e.Kind != KindRateLimit {
		return ""
	}
	return e.Message
}

// Malformed builds a KindMalformed error for responses missing required fields.
func Malformed(format string, args ...any) error {
	return &Error{Kind: KindMalformed, Message: fmt.Sprintf(format, args...)}
}

// Classify returns the Kind of err. Errors not produced by this package are
// KindOther.
func Classify(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindOther
}

// RetryHint returns the rate-limit hint carried by err, if any.
func RetryHint(err error) string {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.RetryHint()
	}
	return ""
}
