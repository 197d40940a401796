package agent

// KVStore is the local key-value store the Session Engine persists through.
// Get returns nil and no error when the key does not exist.
type KVStore interface {
	Get(key string) ([]byte, error)
	Put(key string, value []byte) error
	Delete(key string) error
	Close() error
}
