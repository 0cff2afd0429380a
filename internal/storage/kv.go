package storage

import "context"

// StorageKey namespaces the ledger snapshot in every backend.
const StorageKey = "debt_ledger:transactions"

// KV is the minimal durable key-value contract the adapter runs on: one
// namespaced key holding the full serialized snapshot.
type KV interface {
	// Load returns the raw snapshot. ok is false when the key has never
	// been written, which is not an error.
	Load(ctx context.Context) (data []byte, ok bool, err error)
	// Store atomically replaces the snapshot.
	Store(ctx context.Context, data []byte) error
}
