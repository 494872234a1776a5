package core

import "context"

// StatusStore is the capability contract the transaction driver depends
// on: extracting the batch of transactions from a tabular source and
// persisting per-transaction state back to it. Implementations must make
// Persist safe for concurrent callers.
type StatusStore interface {
	ExtractTransactions() ([]Transaction, error)
	Persist(tx Transaction) error
}

// ObjectStore defines the interface for interacting with a key-value blob
// store holding synced audio files.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
}
