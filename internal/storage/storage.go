package storage

import "context"

// FileStorage persists a downloaded pdf and returns the path or key it
// was written under.
type FileStorage interface {
	Write(ctx context.Context, brnum string, body []byte) (string, error)
}
