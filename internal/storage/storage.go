package storage

// SnapshotItem is one serialized bandit stored under its keyspace key.
// Payload carries its own format version tag.
type SnapshotItem struct {
	Key     string `db:"key"`
	Payload []byte `db:"payload"`
}
