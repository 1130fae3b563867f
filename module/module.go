package module

import (
	"context"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"

	"github.com/oklahomer/go-sarah-discord-modules/kvstore"
)

// Module is a plugin that can be loaded into guilds.
// A single instance is shared by every guild that has the module loaded.
type Module interface {
	// TryLoad returns a non-nil error to refuse being loaded into the guild.
	// The error is reported back to the requester as the reason.
	TryLoad(ctx context.Context, guildID string) error

	// TryUnload returns a non-nil error to refuse being unloaded from the guild.
	TryUnload(ctx context.Context, guildID string) error

	// OnLoad is called after the module is accepted into the guild.
	OnLoad(ctx context.Context, guildID string)

	// OnUnload is called before the module is removed from the guild.
	// Modules running per-guild background work must stop it here.
	OnUnload(ctx context.Context, guildID string)
}

// Base provides no-op lifecycle hooks that accept every load and unload request.
// Embed it to implement only the hooks a module cares about.
type Base struct{}

var _ Module = Base{}

func (Base) TryLoad(context.Context, string) error   { return nil }
func (Base) TryUnload(context.Context, string) error { return nil }
func (Base) OnLoad(context.Context, string)          {}
func (Base) OnUnload(context.Context, string)        {}

// Commander is implemented by modules that expose slash commands.
type Commander interface {
	Commands() []Command
}

// Describer is implemented by modules that provide a description for their top-level command.
type Describer interface {
	Description() string
}

// MemberJoinHandler receives member-joined events of guilds the module is loaded for.
type MemberJoinHandler interface {
	OnMemberJoined(ctx context.Context, guildID string, member *discordgo.Member)
}

// MemberLeaveHandler receives member-left events of guilds the module is loaded for.
type MemberLeaveHandler interface {
	OnMemberLeft(ctx context.Context, guildID string, member *discordgo.Member)
}

// MessageEditHandler receives message-edited events. before is nil when the message was not cached.
type MessageEditHandler interface {
	OnMessageEdited(ctx context.Context, guildID string, before, after *discordgo.Message)
}

// MessageDeleteHandler receives message-deleted events.
// message carries the cached content when available, otherwise only its IDs.
type MessageDeleteHandler interface {
	OnMessageDeleted(ctx context.Context, guildID string, message *discordgo.Message)
}

// ComponentHandler receives button clicks and menu selections whose custom ID was built with ComponentID.
type ComponentHandler interface {
	OnComponent(c *Context, customID string, values []string) error
}

// Controller exposes module bookkeeping to modules that manage other modules.
type Controller interface {
	Load(ctx context.Context, guildID, moduleID string) error
	Unload(ctx context.Context, guildID, moduleID string) error
	LoadedModules(guildID string) []string
	Available() []string
	IsSystem(moduleID string) bool
}

// Messenger posts plain messages to a channel.
type Messenger interface {
	Post(channelID, content string) error
}

// Env is handed to a module Factory on construction.
type Env struct {
	// ID is the module's identifier.
	ID string

	// Config is the module's configuration storage, scoped to modules/<ID>.
	Config *kvstore.Config

	Modules   Controller
	Messenger Messenger

	// Shutdown requests the process to stop with the given exit code.
	Shutdown func(code int)
}

// Responder answers the interaction that triggered a command.
type Responder interface {
	Respond(content string, ephemeral bool) error
}

// Context represents one command or component invocation.
type Context struct {
	ctx          context.Context
	GuildID      string
	ChannelID    string
	UserID       string
	InvocationID string
	Interaction  *discordgo.Interaction
	responder    Responder
	responded    atomic.Bool
}

// NewContext creates a Context bound to the given responder.
func NewContext(ctx context.Context, inv *Invocation) *Context {
	return &Context{
		ctx:         ctx,
		GuildID:     inv.GuildID,
		ChannelID:   inv.ChannelID,
		UserID:      inv.UserID,
		Interaction: inv.Interaction,
		responder:   inv.Responder,
	}
}

// Context returns the process-wide context the invocation runs under.
// It is not canceled when the dispatcher stops waiting for the handler.
func (c *Context) Context() context.Context {
	return c.ctx
}

// Reply responds to the invoker with a message visible to the channel.
func (c *Context) Reply(content string) error {
	return c.respond(content, false)
}

// ReplyEphemeral responds with a message only the invoker can see.
func (c *Context) ReplyEphemeral(content string) error {
	return c.respond(content, true)
}

// Responded reports whether any reply was sent for this invocation.
func (c *Context) Responded() bool {
	return c.responded.Load()
}

func (c *Context) respond(content string, ephemeral bool) error {
	if c.responder == nil {
		return nil
	}
	c.responded.Store(true)
	return c.responder.Respond(content, ephemeral)
}
