package module

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateModule indicates that a module identifier or a top-level command name is already taken.
	ErrDuplicateModule = errors.New("module already registered")

	// ErrAlreadyLoaded indicates that the module is already loaded for the guild.
	ErrAlreadyLoaded = errors.New("module already loaded")

	// ErrNotLoaded indicates that the module is not loaded for the guild.
	ErrNotLoaded = errors.New("module not loaded")

	// ErrNotFound indicates that no module is registered with the given identifier.
	ErrNotFound = errors.New("module not found")

	// ErrProtected indicates an attempt to unload a system module.
	ErrProtected = errors.New("system modules cannot be unloaded")

	// ErrInvalidSignature indicates a command handler whose signature cannot be bound.
	ErrInvalidSignature = errors.New("invalid command signature")

	// ErrUnsupportedParameterType indicates a command parameter type with no slash command option equivalent.
	ErrUnsupportedParameterType = errors.New("unsupported parameter type")
)

// LoadError is returned when a module could not be constructed or registered for a guild.
// No state is mutated when this error is returned.
type LoadError struct {
	Module string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("module %s errored while loading: %s", e.Module, e.Err.Error())
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// DeclinedError is returned when a module's TryLoad or TryUnload hook refuses the request.
type DeclinedError struct {
	Module  string
	GuildID string
	Reason  error
}

func (e *DeclinedError) Error() string {
	return fmt.Sprintf("module %s declined for guild %s: %s", e.Module, e.GuildID, e.Reason.Error())
}

func (e *DeclinedError) Unwrap() error {
	return e.Reason
}
