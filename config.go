package discord

import (
	"time"

	"github.com/bwmarrin/discordgo"
)

// Config contains configuration variables for the Discord Adapter.
type Config struct {
	// Token is the Discord bot token used for authentication.
	Token string `json:"token" yaml:"token"`

	// ApplicationID is the application guild commands are registered under.
	// When empty, the ID reported by the gateway on connection is used.
	ApplicationID string `json:"application_id" yaml:"application_id"`

	// HelpCommand is the command string that triggers help.
	// When a user sends this exact string, the input is converted to sarah.HelpInput.
	HelpCommand string `json:"help_command" yaml:"help_command"`

	// AbortCommand is the command string that triggers context cancellation.
	// When a user sends this exact string, the input is converted to sarah.AbortInput.
	AbortCommand string `json:"abort_command" yaml:"abort_command"`

	// Intents declares the Gateway Intents the bot requires.
	Intents discordgo.Intent `json:"intents" yaml:"intents"`

	// MessageCacheSize is how many messages per channel the session state keeps, so that
	// edits and deletions carry the message as it was before.
	MessageCacheSize int `json:"message_cache_size" yaml:"message_cache_size"`

	// AcknowledgeAfter is how long an interaction may go unanswered before it is deferred.
	// Discord invalidates interactions that are not answered within 3 seconds.
	AcknowledgeAfter time.Duration `json:"acknowledge_after" yaml:"acknowledge_after"`
}

// DefaultIntents covers the events module hooks are fed from.
const DefaultIntents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildMembers |
	discordgo.IntentsGuildMessages |
	discordgo.IntentsDirectMessages |
	discordgo.IntentsMessageContent

// NewConfig creates and returns a new Config instance with default settings.
// Token is empty and must be set before use.
func NewConfig() *Config {
	return &Config{
		Token:            "",
		HelpCommand:      ".help",
		AbortCommand:     ".abort",
		Intents:          DefaultIntents,
		MessageCacheSize: 200,
		AcknowledgeAfter: 2500 * time.Millisecond,
	}
}
