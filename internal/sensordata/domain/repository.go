package domain

import "context"

// Counter issues identifiers from a durable cell. NextID returns the value
// held before the increment, so the first id issued is 0.
type Counter interface {
	NextID(ctx context.Context) (uint64, error)
}

// RecordMap is a durable mapping from id to SensorData. Get and Remove
// return nil when the id is absent.
type RecordMap interface {
	Get(ctx context.Context, id uint64) (*SensorData, error)
	Put(ctx context.Context, data *SensorData) error
	Remove(ctx context.Context, id uint64) (*SensorData, error)
}

// Tx is the counter and record map bound to a single unit of work.
type Tx interface {
	Counter
	RecordMap
}

// Store runs fn against the durable substrate. Effects of fn are applied
// together or not at all where the backend supports transactions.
type Store interface {
	Atomic(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}
