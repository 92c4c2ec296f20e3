package storage

// Storage is an interface for a generic blobstore used to persist
// build results between runs.
type Storage interface {
	Get([]byte) ([]byte, error)
	Put([]byte, []byte) error
	Del([]byte) error

	Close() error
}
