package archive

import (
	"context"

	"github.com/renewtech/livechat/backend/internal/types"
)

// Store persists ended chat sessions and their transcripts
type Store interface {
	ArchiveSession(sess types.ChatSession, transcript []types.ChatMessage) error
	GetTranscript(ctx context.Context, sessionID string) ([]types.ChatMessage, error)
	Close()
}

// NoopStore is a no-op implementation when Postgres is disabled
type NoopStore struct{}

func NewNoopStore() *NoopStore { return &NoopStore{} }

func (s *NoopStore) ArchiveSession(_ types.ChatSession, _ []types.ChatMessage) error { return nil }
func (s *NoopStore) GetTranscript(_ context.Context, _ string) ([]types.ChatMessage, error) {
	return nil, nil
}
func (s *NoopStore) Close() {}
