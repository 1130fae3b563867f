package kvstore

import "errors"

// ErrInvalidKey indicates a key that is empty or escapes the store's root.
var ErrInvalidKey = errors.New("invalid key")

// ErrUnknownBackend indicates that Open was given an unsupported backend name.
var ErrUnknownBackend = errors.New("unknown storage backend")
