package oauth2

import "context"

// TokenStorage persists tokens so that other processes can reuse them.
type TokenStorage interface {
	// SaveToken stores token under key, replacing any previous value
	SaveToken(ctx context.Context, key string, token *Token) error
	// LoadToken returns the token stored under key, or nil if there is none
	LoadToken(ctx context.Context, key string) (*Token, error)
	// DeleteToken removes the token stored under key
	DeleteToken(ctx context.Context, key string) error
}
