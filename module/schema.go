package module

import (
	"fmt"
	"reflect"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
)

// DefaultDescription is used for commands and options declared without a description.
const DefaultDescription = "No description provided."

const maxDescriptionLength = 100

// Command declares one subcommand of a module's top-level slash command.
//
// Handler must be a function whose first parameter is *Context, whose remaining parameters
// correspond one-to-one to Params, and which returns a single error. Method values work well:
//
//	module.Command{
//		Name:    "SetChannel",
//		Params:  []module.Param{{Name: "channel"}},
//		Handler: m.SetChannel, // func(c *module.Context, channel *discordgo.Channel) error
//	}
type Command struct {
	Name        string
	Description string

	// Permission holds the discordgo permission bits the invoking member must have.
	// Zero means no requirement.
	Permission int64

	GuildOnly bool
	DMOnly    bool

	Params  []Param
	Handler any
}

// Param declares a handler parameter.
type Param struct {
	Name        string
	Description string
	Optional    bool

	// Default is passed when an optional parameter is not supplied.
	// It must be convertible to the handler's parameter type. Nil means the zero value.
	Default any
}

// Schema is the declarative projection of a module's commands.
type Schema struct {
	Module string

	// Command is nil when the module exposes no commands.
	Command *discordgo.ApplicationCommand

	Bindings map[string]*Binding
}

// Binding maps a subcommand to its bound handler.
type Binding struct {
	Name       string
	Params     []string
	Permission int64
	GuildOnly  bool
	DMOnly     bool

	fn     reflect.Value
	params []paramBinding
}

type paramKind int

const (
	kindBool paramKind = iota
	kindChannel
	kindInteger
	kindNumber
	kindRole
	kindString
	kindUser
)

type paramBinding struct {
	name     string
	kind     paramKind
	typ      reflect.Type
	optional bool
	def      reflect.Value
}

var (
	contextType = reflect.TypeOf((*Context)(nil))
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	userType    = reflect.TypeOf((*discordgo.User)(nil))
	channelType = reflect.TypeOf((*discordgo.Channel)(nil))
	roleType    = reflect.TypeOf((*discordgo.Role)(nil))
)

// BuildSchema validates the given command declarations and produces the slash command
// declaration and dispatch bindings for the module.
func BuildSchema(moduleID, description string, commands []Command) (*Schema, error) {
	schema := &Schema{
		Module:   moduleID,
		Bindings: map[string]*Binding{},
	}
	if len(commands) == 0 {
		return schema, nil
	}

	cmd := &discordgo.ApplicationCommand{
		Name:        moduleID,
		Description: describe(description),
		Options:     make([]*discordgo.ApplicationCommandOption, 0, len(commands)),
	}

	guildOnly := true
	for _, c := range commands {
		binding, opt, err := bindCommand(moduleID, c)
		if err != nil {
			return nil, err
		}
		if _, dup := schema.Bindings[binding.Name]; dup {
			return nil, fmt.Errorf("%w: %s has more than one command named %q", ErrInvalidSignature, moduleID, binding.Name)
		}

		schema.Bindings[binding.Name] = binding
		cmd.Options = append(cmd.Options, opt)
		guildOnly = guildOnly && c.GuildOnly
	}

	if guildOnly {
		cmd.Contexts = &[]discordgo.InteractionContextType{discordgo.InteractionContextGuild}
	}
	schema.Command = cmd

	return schema, nil
}

func bindCommand(moduleID string, c Command) (*Binding, *discordgo.ApplicationCommandOption, error) {
	name := Normalize(c.Name)
	if name == "" {
		return nil, nil, fmt.Errorf("%w: %s declares a command without a name", ErrInvalidSignature, moduleID)
	}
	if c.GuildOnly && c.DMOnly {
		return nil, nil, fmt.Errorf("%w: %s.%s is both guild-only and DM-only", ErrInvalidSignature, moduleID, c.Name)
	}

	fn := reflect.ValueOf(c.Handler)
	if !fn.IsValid() || fn.Kind() != reflect.Func || fn.IsNil() {
		return nil, nil, fmt.Errorf("%w: %s.%s has no handler function", ErrInvalidSignature, moduleID, c.Name)
	}

	ft := fn.Type()
	if ft.IsVariadic() {
		return nil, nil, fmt.Errorf("%w: %s.%s must not be variadic", ErrInvalidSignature, moduleID, c.Name)
	}
	if ft.NumIn() == 0 || ft.In(0) != contextType {
		return nil, nil, fmt.Errorf("%w: %s.%s must take *module.Context as its first parameter", ErrInvalidSignature, moduleID, c.Name)
	}
	if ft.NumOut() != 1 || ft.Out(0) != errorType {
		return nil, nil, fmt.Errorf("%w: %s.%s must return exactly one error", ErrInvalidSignature, moduleID, c.Name)
	}
	if ft.NumIn()-1 != len(c.Params) {
		return nil, nil, fmt.Errorf("%w: %s.%s takes %d arguments but declares %d parameters", ErrInvalidSignature, moduleID, c.Name, ft.NumIn()-1, len(c.Params))
	}

	binding := &Binding{
		Name:       name,
		Params:     make([]string, 0, len(c.Params)),
		Permission: c.Permission,
		GuildOnly:  c.GuildOnly,
		DMOnly:     c.DMOnly,
		fn:         fn,
		params:     make([]paramBinding, 0, len(c.Params)),
	}
	opt := &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionSubCommand,
		Name:        name,
		Description: describe(c.Description),
		Options:     make([]*discordgo.ApplicationCommandOption, 0, len(c.Params)),
	}

	seenOptional := false
	for i, p := range c.Params {
		typ := ft.In(i + 1)
		pb, optType, err := bindParam(typ, p)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %s.%s parameter %q", err, moduleID, c.Name, p.Name)
		}

		if !p.Optional && seenOptional {
			return nil, nil, fmt.Errorf("%w: %s.%s parameter %q is required but follows an optional one", ErrInvalidSignature, moduleID, c.Name, p.Name)
		}
		seenOptional = seenOptional || p.Optional

		for _, existing := range binding.Params {
			if existing == pb.name {
				return nil, nil, fmt.Errorf("%w: %s.%s declares parameter %q twice", ErrInvalidSignature, moduleID, c.Name, pb.name)
			}
		}

		binding.Params = append(binding.Params, pb.name)
		binding.params = append(binding.params, pb)
		opt.Options = append(opt.Options, &discordgo.ApplicationCommandOption{
			Type:        optType,
			Name:        pb.name,
			Description: describe(p.Description),
			Required:    !p.Optional,
		})
	}

	return binding, opt, nil
}

func bindParam(typ reflect.Type, p Param) (paramBinding, discordgo.ApplicationCommandOptionType, error) {
	pb := paramBinding{
		name:     Normalize(p.Name),
		typ:      typ,
		optional: p.Optional,
	}
	if pb.name == "" {
		return pb, 0, ErrInvalidSignature
	}

	var optType discordgo.ApplicationCommandOptionType
	switch {
	case typ == userType:
		pb.kind, optType = kindUser, discordgo.ApplicationCommandOptionUser
	case typ == channelType:
		pb.kind, optType = kindChannel, discordgo.ApplicationCommandOptionChannel
	case typ == roleType:
		pb.kind, optType = kindRole, discordgo.ApplicationCommandOptionRole
	default:
		switch typ.Kind() {
		case reflect.Bool:
			pb.kind, optType = kindBool, discordgo.ApplicationCommandOptionBoolean
		case reflect.String:
			pb.kind, optType = kindString, discordgo.ApplicationCommandOptionString
		case reflect.Int, reflect.Int32, reflect.Int64:
			pb.kind, optType = kindInteger, discordgo.ApplicationCommandOptionInteger
		case reflect.Float32, reflect.Float64:
			pb.kind, optType = kindNumber, discordgo.ApplicationCommandOptionNumber
		default:
			return pb, 0, fmt.Errorf("%w %s", ErrUnsupportedParameterType, typ)
		}
	}

	pb.def = reflect.Zero(typ)
	if p.Default != nil {
		dv := reflect.ValueOf(p.Default)
		if !dv.Type().ConvertibleTo(typ) || (dv.Kind() == reflect.String) != (typ.Kind() == reflect.String) {
			return pb, 0, fmt.Errorf("%w: default %v is not convertible to %s", ErrInvalidSignature, p.Default, typ)
		}
		pb.def = dv.Convert(typ)
	}

	return pb, optType, nil
}

func describe(description string) string {
	if description == "" {
		return DefaultDescription
	}
	if utf8.RuneCountInString(description) > maxDescriptionLength {
		runes := []rune(description)
		return string(runes[:maxDescriptionLength])
	}
	return description
}
