package module

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	"github.com/oklahomer/go-kasumi/logger"
)

// DefaultTimeout is how long the dispatcher waits for a command handler,
// matching the window Discord gives an interaction to be answered.
const DefaultTimeout = 5 * time.Second

const maxMessageLength = 1900

// Messages sent by the dispatcher on behalf of a failed invocation.
const (
	MessageNoCommand        = "No command given."
	MessageUnknownCommand   = "Unknown command."
	MessagePermissionDenied = "You do not have permission to use this command."
	MessageTimeout          = "This command is causing a timeout. It keeps running in the background."
	MessageGuildOnly        = "This command can only be used in a server."
	MessageDMOnly           = "This command can only be used in direct messages."
)

// PermissionFetcher returns the effective permission bits of a guild member in a channel.
type PermissionFetcher interface {
	MemberPermissions(guildID, channelID, userID string) (int64, error)
}

// Invocation is an inbound slash command call.
type Invocation struct {
	GuildID    string
	ChannelID  string
	UserID     string
	Command    string
	Subcommand string
	Options    []*discordgo.ApplicationCommandInteractionDataOption
	Resolved   *discordgo.ApplicationCommandInteractionDataResolved

	Interaction *discordgo.Interaction
	Responder   Responder
}

// DispatcherOption defines a function signature for Dispatcher's functional options.
type DispatcherOption func(*Dispatcher)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.timeout = timeout
	}
}

// WithPermissionFetcher sets the source of member permissions used to authorize commands.
func WithPermissionFetcher(fetcher PermissionFetcher) DispatcherOption {
	return func(d *Dispatcher) {
		d.permissions = fetcher
	}
}

// Dispatcher routes slash command invocations to bound module handlers.
type Dispatcher struct {
	mu          sync.RWMutex
	schemas     map[string]*Schema
	permissions PermissionFetcher
	timeout     time.Duration

	// gate reports whether a module is loaded for a guild. Set by Manager.
	gate func(guildID, moduleID string) bool
}

// NewDispatcher creates a Dispatcher with an empty command table.
func NewDispatcher(options ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		schemas: map[string]*Schema{},
		timeout: DefaultTimeout,
	}
	for _, opt := range options {
		opt(d)
	}
	return d
}

// Bind adds the schema's top-level command to the dispatch table.
// Schemas without commands are ignored.
func (d *Dispatcher) Bind(schema *Schema) error {
	if schema.Command == nil {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	name := schema.Command.Name
	if existing, ok := d.schemas[name]; ok && existing.Module != schema.Module {
		return fmt.Errorf("%w: command %s is already bound to module %s", ErrDuplicateModule, name, existing.Module)
	}
	d.schemas[name] = schema

	return nil
}

// Unbind removes the schema's top-level command from the dispatch table.
func (d *Dispatcher) Unbind(schema *Schema) {
	if schema.Command == nil {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if existing, ok := d.schemas[schema.Command.Name]; ok && existing.Module == schema.Module {
		delete(d.schemas, schema.Command.Name)
	}
}

// Bound reports whether a top-level command name is currently in the dispatch table.
func (d *Dispatcher) Bound(name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	_, ok := d.schemas[name]
	return ok
}

// Dispatch runs the invoked command. It never panics and never returns an error;
// failures are reported to the invoker through the invocation's Responder.
func (d *Dispatcher) Dispatch(ctx context.Context, inv *Invocation) {
	d.mu.RLock()
	schema, ok := d.schemas[inv.Command]
	d.mu.RUnlock()

	if !ok {
		// Commands may still arrive shortly after their module was unloaded.
		logger.Debugf("Ignoring unknown command %s.", inv.Command)
		return
	}
	if inv.GuildID != "" && d.gate != nil && !d.gate(inv.GuildID, schema.Module) {
		logger.Debugf("Ignoring command %s: module %s is not loaded for guild %s.", inv.Command, schema.Module, inv.GuildID)
		return
	}

	c := NewContext(ctx, inv)
	c.InvocationID = uuid.NewString()

	if inv.Subcommand == "" {
		d.notify(c, MessageNoCommand)
		return
	}

	binding, ok := schema.Bindings[inv.Subcommand]
	if !ok {
		d.notify(c, MessageUnknownCommand)
		return
	}

	if binding.GuildOnly && inv.GuildID == "" {
		d.notify(c, MessageGuildOnly)
		return
	}
	if binding.DMOnly && inv.GuildID != "" {
		d.notify(c, MessageDMOnly)
		return
	}

	if binding.Permission != 0 {
		allowed, err := d.authorize(inv, binding.Permission)
		if err != nil {
			d.report(c, fmt.Errorf("failed to fetch permissions: %w", err))
			return
		}
		if !allowed {
			if err := c.ReplyEphemeral(MessagePermissionDenied); err != nil {
				logger.Errorf("Failed to send permission denial for %s %s: %+v", inv.Command, inv.Subcommand, err)
			}
			return
		}
	}

	args, err := binding.arguments(inv)
	if err != nil {
		d.report(c, err)
		return
	}

	label := inv.Command + " " + inv.Subcommand
	logger.Debugf("Invoking %s (%s) in guild %s for user %s.", label, c.InvocationID, inv.GuildID, inv.UserID)
	d.execute(c, label, func() error {
		return binding.call(c, args)
	})
}

// execute runs fn in its own goroutine and waits for it up to the dispatcher's timeout.
// A timed out fn is not canceled; its eventual error is only logged.
func (d *Dispatcher) execute(c *Context, label string, fn func() error) {
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic: %v", r)
			}
		}()
		done <- fn()
	}()

	timer := time.NewTimer(d.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			d.report(c, err)
		}

	case <-timer.C:
		logger.Warnf("%s (%s) did not complete within %s.", label, c.InvocationID, d.timeout)
		d.notify(c, MessageTimeout)
		go func() {
			if err := <-done; err != nil {
				logger.Errorf("%s (%s) failed after timing out: %+v", label, c.InvocationID, err)
			}
		}()
	}
}

func (d *Dispatcher) authorize(inv *Invocation, required int64) (bool, error) {
	if d.permissions == nil {
		return false, fmt.Errorf("no permission fetcher configured")
	}

	perms, err := d.permissions.MemberPermissions(inv.GuildID, inv.ChannelID, inv.UserID)
	if err != nil {
		return false, err
	}
	if perms&discordgo.PermissionAdministrator != 0 {
		return true, nil
	}

	return perms&required == required, nil
}

func (d *Dispatcher) report(c *Context, err error) {
	logger.Errorf("Command invocation %s failed: %+v", c.InvocationID, err)
	d.notify(c, truncate("Command failed: "+err.Error()))
}

func (d *Dispatcher) notify(c *Context, message string) {
	if err := c.Reply(message); err != nil {
		logger.Errorf("Failed to respond to invocation %s: %+v", c.InvocationID, err)
	}
}

func truncate(message string) string {
	runes := []rune(message)
	if len(runes) <= maxMessageLength {
		return message
	}
	return string(runes[:maxMessageLength-1]) + "…"
}

func (b *Binding) arguments(inv *Invocation) ([]reflect.Value, error) {
	supplied := make(map[string]*discordgo.ApplicationCommandInteractionDataOption, len(inv.Options))
	for _, opt := range inv.Options {
		supplied[opt.Name] = opt
	}

	values := make([]reflect.Value, 0, len(b.params))
	for _, p := range b.params {
		opt, ok := supplied[p.name]
		if !ok || opt.Value == nil {
			if !p.optional {
				return nil, fmt.Errorf("missing required argument %s", p.name)
			}
			values = append(values, p.def)
			continue
		}

		v, err := p.coerce(opt.Value, inv)
		if err != nil {
			return nil, fmt.Errorf("argument %s: %w", p.name, err)
		}
		values = append(values, v)
	}

	return values, nil
}

func (b *Binding) call(c *Context, args []reflect.Value) error {
	in := make([]reflect.Value, 0, len(args)+1)
	in = append(in, reflect.ValueOf(c))
	in = append(in, args...)

	out := b.fn.Call(in)
	err, _ := out[0].Interface().(error)
	return err
}

func (p paramBinding) coerce(raw any, inv *Invocation) (reflect.Value, error) {
	switch p.kind {
	case kindBool:
		v, ok := raw.(bool)
		if !ok {
			return reflect.Value{}, unexpected(raw, "boolean")
		}
		return reflect.ValueOf(v).Convert(p.typ), nil

	case kindString:
		v, ok := raw.(string)
		if !ok {
			return reflect.Value{}, unexpected(raw, "string")
		}
		return reflect.ValueOf(v).Convert(p.typ), nil

	case kindInteger:
		var v int64
		switch n := raw.(type) {
		case float64:
			v = int64(n)
		case int64:
			v = n
		case int:
			v = int64(n)
		default:
			return reflect.Value{}, unexpected(raw, "integer")
		}
		return reflect.ValueOf(v).Convert(p.typ), nil

	case kindNumber:
		v, ok := raw.(float64)
		if !ok {
			return reflect.Value{}, unexpected(raw, "number")
		}
		return reflect.ValueOf(v).Convert(p.typ), nil

	case kindUser, kindChannel, kindRole:
		id, ok := raw.(string)
		if !ok || strings.TrimSpace(id) == "" {
			return reflect.Value{}, unexpected(raw, "snowflake")
		}
		return reflect.ValueOf(p.reference(id, inv)), nil

	default:
		return reflect.Value{}, fmt.Errorf("unhandled parameter kind %d", p.kind)
	}
}

func (p paramBinding) reference(id string, inv *Invocation) any {
	resolved := inv.Resolved
	switch p.kind {
	case kindUser:
		if resolved != nil && resolved.Users[id] != nil {
			return resolved.Users[id]
		}
		return &discordgo.User{ID: id}

	case kindChannel:
		if resolved != nil && resolved.Channels[id] != nil {
			return resolved.Channels[id]
		}
		return &discordgo.Channel{ID: id, GuildID: inv.GuildID}

	default:
		if resolved != nil && resolved.Roles[id] != nil {
			return resolved.Roles[id]
		}
		return &discordgo.Role{ID: id}
	}
}

func unexpected(raw any, want string) error {
	return fmt.Errorf("expected %s value, got %T", want, raw)
}
