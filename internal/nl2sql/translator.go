// Package nl2sql turns a natural-language question into a candidate SQL
// statement. Its output is untrusted and must pass the safety validator.
package nl2sql

import (
	"context"
	"errors"

	"github.com/querygate/querygate/internal/schema"
	"github.com/querygate/querygate/internal/session"
)

// ErrNoCandidate means the service answered but produced no statement.
var ErrNoCandidate = errors.New("translator returned no candidate query")

type Request struct {
	NaturalLanguage string
	Schema          *schema.Descriptor
	History         []session.Turn
	// Hint is a previously successful statement for the same question.
	Hint string
	// Examples are successful statements for related questions.
	Examples []Example
	Dialect  string
}

type Example struct {
	Question string
	SQL      string
}

type Result struct {
	SQL      string `json:"sql"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

type Translator interface {
	Translate(ctx context.Context, req Request) (Result, error)
}
