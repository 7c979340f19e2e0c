// Package remote is the boundary to the database that owns signatures: it
// lists them, commits new ones (captcha check and insert in one remote
// operation) and counts them.
package remote

import (
	"context"
	"errors"

	"petition/api/internal/signature"
)

var (
	// ErrRejected means the remote side refused the submission: reused or
	// invalid captcha token, duplicate handle, or a server-side rule.
	ErrRejected = errors.New("submission rejected")
	// ErrNotFound means the post-commit lookup returned no row.
	ErrNotFound = errors.New("signature not found")
)

// Submission is what a visitor commits.
type Submission struct {
	Handle       string
	Comment      *string
	Location     string
	CaptchaToken string
}

// CommentText returns the comment or "" when absent.
func (s Submission) CommentText() string {
	if s.Comment == nil {
		return ""
	}
	return *s.Comment
}

// Committer is implemented by every signature backend.
type Committer interface {
	// FetchAll returns every signature, newest first.
	FetchAll(ctx context.Context) ([]signature.Signature, error)
	// Submit commits a signature and returns the stored record.
	Submit(ctx context.Context, sub Submission) (*signature.Signature, error)
	// Count returns the exact number of stored signatures.
	Count(ctx context.Context) (int, error)
}

// Pinger is implemented by backends that can report connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}
