package core

import "context"

// ILogger defines the structured logging interface used across the system
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}

// IStore is the persistence collaborator. The engines themselves never
// persist anything; loading and saving books and snapshot history is
// the store's job.
type IStore interface {
	SaveBook(ctx context.Context, name string, book *Book) error
	LoadBook(ctx context.Context, name string) (*Book, error)
	AppendSnapshot(ctx context.Context, book string, snap *MarginSnapshot) error
	RecentSnapshots(ctx context.Context, book string, limit int) ([]*MarginSnapshot, error)
	Close() error
}
