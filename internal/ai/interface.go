package ai

import (
	"context"
	"errors"

	"roam/internal/modules/prompt"
	"roam/internal/modules/session"
	"roam/internal/modules/tools"
	"roam/internal/types"
)

var (
	ErrNoCandidates = errors.New("no response candidates from model")
	ErrToolLoop     = errors.New("model exceeded tool call rounds")
)

// ExtractRequest is everything the model sees for one turn.
type ExtractRequest struct {
	ConversationID types.ID
	Static         prompt.Static
	Dynamic        string
	History        []session.Message
	Message        string
	// Workspace receives the turn's tool calls.
	Workspace *tools.Workspace
}

// Extraction is the model's final raw output. Handle is the provider cache handle valid
// after the call, empty when the static tier was sent inline.
type Extraction struct {
	Raw    []byte
	Handle string
}

// Extractor is the probabilistic layer of turn extraction. Implementations may call tools
// through the request's workspace before producing their final JSON answer.
type Extractor interface {
	Extract(ctx context.Context, req ExtractRequest) (Extraction, error)
}
