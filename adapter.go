package discord

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/oklahomer/go-kasumi/logger"
	"github.com/oklahomer/go-sarah/v4"

	"github.com/oklahomer/go-sarah-discord-modules/module"
)

const (
	// DISCORD is a designated sarah.BotType for Discord integration.
	DISCORD sarah.BotType = "discord"
)

// session is an internal interface that abstracts the discordgo.Session methods
// used by the Adapter. This allows mocking the session in tests.
// *discordgo.Session satisfies this interface.
type session interface {
	AddHandler(handler interface{}) func()
	Open() error
	Close() error
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ApplicationCommandCreate(appID string, guildID string, cmd *discordgo.ApplicationCommand, options ...discordgo.RequestOption) (*discordgo.ApplicationCommand, error)
	ApplicationCommandDelete(appID, guildID, cmdID string, options ...discordgo.RequestOption) error
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	InteractionResponseEdit(interaction *discordgo.Interaction, newresp *discordgo.WebhookEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
	FollowupMessageCreate(interaction *discordgo.Interaction, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
	UserChannelPermissions(userID, channelID string, fetchOptions ...discordgo.RequestOption) (int64, error)
}

// Runtime receives the guild-scoped events the Adapter observes.
// *module.Manager satisfies this interface.
type Runtime interface {
	Dispatch(ctx context.Context, inv *module.Invocation)
	HandleComponent(ctx context.Context, inv *module.ComponentInvocation)
	EnsureGuild(ctx context.Context, guildID string)
	ForgetGuild(ctx context.Context, guildID string)
	MemberJoined(ctx context.Context, guildID string, member *discordgo.Member)
	MemberLeft(ctx context.Context, guildID string, member *discordgo.Member)
	MessageEdited(ctx context.Context, guildID string, before, after *discordgo.Message)
	MessageDeleted(ctx context.Context, guildID string, message *discordgo.Message)
}

// ChannelID represents a Discord channel as sarah.OutputDestination.
type ChannelID string

var _ sarah.OutputDestination = ChannelID("")

// AdapterOption defines a function signature for Adapter's functional options.
type AdapterOption func(adapter *Adapter)

// WithSession creates an AdapterOption with the given *discordgo.Session.
// Use this to inject a pre-configured session.
// If this option is not given, NewAdapter creates a new session from Config.Token.
func WithSession(session *discordgo.Session) AdapterOption {
	return func(adapter *Adapter) {
		adapter.session = session
	}
}

// Adapter is a sarah.Adapter implementation for Discord.
// Besides relaying text messages to go-sarah, it forwards slash commands, components
// and guild events to the Runtime set with SetRuntime.
type Adapter struct {
	config  *Config
	session session

	runtime Runtime
	ready   atomic.Bool

	mu       sync.RWMutex
	appID    string
	guildIDs []string
}

var (
	_ sarah.Adapter            = (*Adapter)(nil)
	_ module.CommandRegistrar  = (*Adapter)(nil)
	_ module.PermissionFetcher = (*Adapter)(nil)
	_ module.Messenger         = (*Adapter)(nil)
)

// NewAdapter creates a new Adapter with the given Config and options.
func NewAdapter(config *Config, options ...AdapterOption) (*Adapter, error) {
	adapter := &Adapter{
		config: config,
		appID:  config.ApplicationID,
	}

	for _, opt := range options {
		opt(adapter)
	}

	if adapter.session == nil {
		if config.Token == "" {
			return nil, ErrEmptyToken
		}

		s, err := discordgo.New("Bot " + config.Token)
		if err != nil {
			return nil, fmt.Errorf("failed to create Discord session: %w", err)
		}
		s.Identify.Intents = config.Intents
		s.State.MaxMessageCount = config.MessageCacheSize
		adapter.session = s
	}

	return adapter, nil
}

// SetRuntime sets where guild events are forwarded to. Call it before Run.
func (a *Adapter) SetRuntime(runtime Runtime) {
	a.runtime = runtime
}

// BotType returns a designated BotType for Discord integration.
func (a *Adapter) BotType() sarah.BotType {
	return DISCORD
}

// Run establishes a connection with Discord and blocks until the context is canceled.
func (a *Adapter) Run(ctx context.Context, enqueueInput func(sarah.Input) error, notifyErr func(error)) {
	a.session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		a.handleMessage(s, m, enqueueInput)
	})
	a.session.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		a.handleReady(r)
	})
	a.session.AddHandler(func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
		a.handleInteraction(ctx, i)
	})
	a.session.AddHandler(func(_ *discordgo.Session, g *discordgo.GuildCreate) {
		a.handleGuildCreate(ctx, g)
	})
	a.session.AddHandler(func(_ *discordgo.Session, g *discordgo.GuildDelete) {
		a.handleGuildDelete(ctx, g)
	})
	a.session.AddHandler(func(_ *discordgo.Session, m *discordgo.GuildMemberAdd) {
		a.handleMemberAdd(ctx, m)
	})
	a.session.AddHandler(func(_ *discordgo.Session, m *discordgo.GuildMemberRemove) {
		a.handleMemberRemove(ctx, m)
	})
	a.session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageUpdate) {
		a.handleMessageUpdate(ctx, m)
	})
	a.session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageDelete) {
		a.handleMessageDelete(ctx, s.State, m)
	})

	err := a.session.Open()
	if err != nil {
		notifyErr(sarah.NewBotNonContinuableError(fmt.Sprintf("failed to open Discord session: %s", err.Error())))
		return
	}

	// Block until the context is canceled.
	<-ctx.Done()

	a.ready.Store(false)
	if closeErr := a.session.Close(); closeErr != nil {
		logger.Errorf("Failed to close Discord session: %+v", closeErr)
	}
}

// Ready reports whether the gateway handshake has completed.
func (a *Adapter) Ready() bool {
	return a.ready.Load()
}

// GuildIDs returns the guilds the bot is currently a member of.
func (a *Adapter) GuildIDs() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return append([]string(nil), a.guildIDs...)
}

// ApplicationID returns the configured application ID, or the one reported on connection.
func (a *Adapter) ApplicationID() string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.appID
}

// handleMessage processes an incoming Discord message and routes it to enqueueInput.
func (a *Adapter) handleMessage(s *discordgo.Session, m *discordgo.MessageCreate, enqueueInput func(sarah.Input) error) {
	input, err := MessageToInput(m)
	if err != nil {
		// MessageToInput returns ErrNoAuthor for system messages with no author.
		logger.Debugf("Skipping message: %+v", err)
		return
	}

	// Ignore messages from the bot itself.
	if s.State != nil && s.State.User != nil && m.Author.ID == s.State.User.ID {
		return
	}

	var enqueueErr error
	trimmed := strings.TrimSpace(input.Message())
	if a.config.HelpCommand != "" && trimmed == a.config.HelpCommand {
		enqueueErr = enqueueInput(sarah.NewHelpInput(input))
	} else if a.config.AbortCommand != "" && trimmed == a.config.AbortCommand {
		enqueueErr = enqueueInput(sarah.NewAbortInput(input))
	} else {
		enqueueErr = enqueueInput(input)
	}
	if enqueueErr != nil {
		logger.Errorf("Failed to enqueue input: %+v", enqueueErr)
	}
}

// SendMessage sends the given message to Discord.
func (a *Adapter) SendMessage(_ context.Context, output sarah.Output) {
	destination, ok := output.Destination().(ChannelID)
	if !ok {
		logger.Errorf("Destination is not instance of ChannelID. %#v.", output.Destination())
		return
	}

	channelID := string(destination)

	switch content := output.Content().(type) {
	case string:
		_, err := a.session.ChannelMessageSend(channelID, content)
		if err != nil {
			logger.Errorf("Failed to send message to %s: %+v", channelID, err)
		}

	case *discordgo.MessageSend:
		_, err := a.session.ChannelMessageSendComplex(channelID, content)
		if err != nil {
			logger.Errorf("Failed to send complex message to %s: %+v", channelID, err)
		}

	case *sarah.CommandHelps:
		lines := make([]string, 0, len(*content))
		for _, h := range *content {
			lines = append(lines, fmt.Sprintf("**%s**: %s", h.Identifier, h.Instruction))
		}
		text := strings.Join(lines, "\n")
		_, err := a.session.ChannelMessageSend(channelID, text)
		if err != nil {
			logger.Errorf("Failed to send help message to %s: %+v", channelID, err)
		}

	default:
		logger.Warnf("Unexpected output %#v", output)
	}
}

// Post sends a plain message to a channel on behalf of a module.
func (a *Adapter) Post(channelID, content string) error {
	_, err := a.session.ChannelMessageSend(channelID, content)
	return err
}

// CreateGuildCommand registers cmd as a guild command and returns its ID.
func (a *Adapter) CreateGuildCommand(guildID string, cmd *discordgo.ApplicationCommand) (string, error) {
	appID := a.ApplicationID()
	if appID == "" {
		return "", ErrNoApplicationID
	}

	created, err := a.session.ApplicationCommandCreate(appID, guildID, cmd)
	if err != nil {
		return "", err
	}
	return created.ID, nil
}

// DeleteGuildCommand removes a guild command registered by CreateGuildCommand.
func (a *Adapter) DeleteGuildCommand(guildID, commandID string) error {
	appID := a.ApplicationID()
	if appID == "" {
		return ErrNoApplicationID
	}

	return a.session.ApplicationCommandDelete(appID, guildID, commandID)
}

// MemberPermissions returns the effective permissions of a guild member in a channel.
func (a *Adapter) MemberPermissions(_, channelID, userID string) (int64, error) {
	return a.session.UserChannelPermissions(userID, channelID)
}

// Input is a sarah.Input implementation that represents a received Discord message.
type Input struct {
	Event     *discordgo.MessageCreate
	senderKey string
	text      string
	sentAt    time.Time
	channelID ChannelID
}

var _ sarah.Input = (*Input)(nil)

// SenderKey returns a unique key representing the sender in the channel.
func (i *Input) SenderKey() string {
	return i.senderKey
}

// Message returns the received text.
func (i *Input) Message() string {
	return i.text
}

// SentAt returns when the message was sent.
func (i *Input) SentAt() time.Time {
	return i.sentAt
}

// ReplyTo returns the Discord channel where the message was received.
func (i *Input) ReplyTo() sarah.OutputDestination {
	return i.channelID
}

// GuildID returns the guild the message was sent in, or an empty string for direct messages.
func (i *Input) GuildID() string {
	if i.Event == nil || i.Event.Message == nil {
		return ""
	}
	return i.Event.GuildID
}

// MessageToInput converts a *discordgo.MessageCreate event to *Input.
func MessageToInput(m *discordgo.MessageCreate) (*Input, error) {
	if m.Author == nil {
		return nil, ErrNoAuthor
	}

	return &Input{
		Event:     m,
		senderKey: fmt.Sprintf("%s_%s", m.ChannelID, m.Author.ID),
		text:      m.Content,
		sentAt:    m.Timestamp,
		channelID: ChannelID(m.ChannelID),
	}, nil
}

// NewResponse creates a *sarah.CommandResponse with the given message.
func NewResponse(input sarah.Input, message string) (*sarah.CommandResponse, error) {
	if _, ok := input.(*Input); !ok {
		return nil, fmt.Errorf("%T is not a *discord.Input", input)
	}

	return &sarah.CommandResponse{
		Content: message,
	}, nil
}
