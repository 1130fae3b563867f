// Package discord provides a sarah.Adapter implementation for Discord that also drives
// a guild-scoped module runtime.
//
// Text messages are converted to sarah.Input and dispatched through go-sarah as usual.
// Slash commands, message components and guild events (members joining or leaving,
// messages being edited or deleted, the bot joining or leaving a guild) are forwarded
// to the Runtime set with Adapter.SetRuntime, typically a *module.Manager. The Adapter
// in turn registers the modules' guild commands and answers permission lookups.
//
// See cmd/modbot for a complete bot built on this package.
package discord
