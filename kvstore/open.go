package kvstore

import "fmt"

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Open creates a Store for the named backend.
// dsn is a directory for "file", a database path for "sqlite" and a redis:// URL for "redis".
func Open(backend, dsn string) (Store, error) {
	var (
		store Store
		err   error
	)

	switch backend {
	case BackendFile, "":
		store, err = NewFileStore(dsn)

	case BackendSQLite:
		store, err = OpenSQLite(dsn)

	case BackendRedis:
		store, err = OpenRedis(dsn, "modbot:")

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, backend)
	}

	if err != nil {
		return nil, err
	}
	return store, nil
}
