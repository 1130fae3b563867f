package main

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/oklahomer/go-sarah/v4"

	discord "github.com/oklahomer/go-sarah-discord-modules"
	"github.com/oklahomer/go-sarah-discord-modules/module"
	"github.com/oklahomer/go-sarah-discord-modules/modules/announce"
	"github.com/oklahomer/go-sarah-discord-modules/modules/botcontrol"
	"github.com/oklahomer/go-sarah-discord-modules/modules/memberlog"
	"github.com/oklahomer/go-sarah-discord-modules/modules/modulemanager"
)

// systemModules are loaded into every guild and cannot be unloaded.
var systemModules = []string{"module-manager", "bot-control"}

func newRegistry() (*module.Registry, error) {
	r := module.NewRegistry()

	registrations := []func() (string, error){
		func() (string, error) { return module.RegisterType(r, modulemanager.New) },
		func() (string, error) { return module.RegisterType(r, botcontrol.New) },
		func() (string, error) { return module.RegisterType(r, memberlog.New) },
		func() (string, error) { return module.RegisterType(r, announce.New) },
	}
	for _, register := range registrations {
		if _, err := register(); err != nil {
			return nil, err
		}
	}

	for _, id := range systemModules {
		if _, ok := r.Resolve(id); !ok {
			return nil, fmt.Errorf("system module %s is not registered", id)
		}
	}

	return r, nil
}

type moduleLister interface {
	LoadedModules(guildID string) []string
}

var modulesPattern = regexp.MustCompile(`^\.modules`)

func registerModulesCommand(lister moduleLister) {
	props := sarah.NewCommandPropsBuilder().
		BotType(discord.DISCORD).
		Identifier("modules").
		MatchPattern(modulesPattern).
		Func(func(_ context.Context, input sarah.Input) (*sarah.CommandResponse, error) {
			return discord.NewResponse(input, describeModules(lister, input))
		}).
		Instruction("Input .modules to list the modules loaded in this server.").
		MustBuild()

	sarah.RegisterCommandProps(props)
}

func describeModules(lister moduleLister, input sarah.Input) string {
	in, ok := input.(*discord.Input)
	if !ok || in.GuildID() == "" {
		return "Modules are managed per server."
	}

	loaded := lister.LoadedModules(in.GuildID())
	if len(loaded) == 0 {
		return "No modules are loaded."
	}
	return "Loaded modules: " + strings.Join(loaded, ", ")
}
