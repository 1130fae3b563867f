// Package modulemanager provides the system module that loads and unloads other modules.
package modulemanager

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/oklahomer/go-sarah-discord-modules/module"
)

// ModuleManager exposes module bookkeeping as slash commands.
type ModuleManager struct {
	module.Base
	modules module.Controller
}

var (
	_ module.Commander = (*ModuleManager)(nil)
	_ module.Describer = (*ModuleManager)(nil)
)

// New is the module.Factory of ModuleManager.
func New(env *module.Env) (*ModuleManager, error) {
	if env.Modules == nil {
		return nil, fmt.Errorf("module controller is not available")
	}
	return &ModuleManager{modules: env.Modules}, nil
}

func (m *ModuleManager) Description() string {
	return "Load and unload bot modules for this server."
}

func (m *ModuleManager) Commands() []module.Command {
	return []module.Command{
		{
			Name:        "Load",
			Description: "Load a module into this server.",
			Permission:  discordgo.PermissionManageGuild,
			GuildOnly:   true,
			Params: []module.Param{
				{Name: "module", Description: "Identifier of the module to load."},
			},
			Handler: m.Load,
		},
		{
			Name:        "Unload",
			Description: "Unload a module from this server.",
			Permission:  discordgo.PermissionManageGuild,
			GuildOnly:   true,
			Params: []module.Param{
				{Name: "module", Description: "Identifier of the module to unload."},
			},
			Handler: m.Unload,
		},
		{
			Name:        "List",
			Description: "List the modules loaded in this server.",
			GuildOnly:   true,
			Params: []module.Param{
				{Name: "all", Description: "Also list modules that are not loaded.", Optional: true},
			},
			Handler: m.List,
		},
	}
}

// Load handles /module-manager load.
func (m *ModuleManager) Load(c *module.Context, moduleID string) error {
	id := module.Normalize(strings.TrimSpace(moduleID))

	err := m.modules.Load(c.Context(), c.GuildID, id)
	switch {
	case err == nil:
		return c.Reply(fmt.Sprintf("Module `%s` loaded.", id))

	case errors.Is(err, module.ErrAlreadyLoaded):
		return c.ReplyEphemeral(fmt.Sprintf("Module `%s` is already loaded.", id))

	case errors.Is(err, module.ErrNotFound):
		return c.ReplyEphemeral(fmt.Sprintf("There is no module named `%s`.", id))
	}

	var declined *module.DeclinedError
	if errors.As(err, &declined) {
		return c.ReplyEphemeral(fmt.Sprintf("Module `%s` refused to load: %s", id, declined.Reason))
	}

	return err
}

// Unload handles /module-manager unload.
func (m *ModuleManager) Unload(c *module.Context, moduleID string) error {
	id := module.Normalize(strings.TrimSpace(moduleID))

	err := m.modules.Unload(c.Context(), c.GuildID, id)
	switch {
	case err == nil:
		return c.Reply(fmt.Sprintf("Module `%s` unloaded.", id))

	case errors.Is(err, module.ErrProtected):
		return c.ReplyEphemeral(fmt.Sprintf("Module `%s` is a system module and cannot be unloaded.", id))

	case errors.Is(err, module.ErrNotLoaded):
		return c.ReplyEphemeral(fmt.Sprintf("Module `%s` is not loaded.", id))
	}

	var declined *module.DeclinedError
	if errors.As(err, &declined) {
		return c.ReplyEphemeral(fmt.Sprintf("Module `%s` refused to unload: %s", id, declined.Reason))
	}

	return err
}

// List handles /module-manager list.
func (m *ModuleManager) List(c *module.Context, all bool) error {
	loaded := m.modules.LoadedModules(c.GuildID)
	if !all {
		if len(loaded) == 0 {
			return c.ReplyEphemeral("No modules are loaded.")
		}
		return c.ReplyEphemeral("Loaded modules: " + quoteAll(loaded))
	}

	isLoaded := make(map[string]bool, len(loaded))
	for _, id := range loaded {
		isLoaded[id] = true
	}

	var b strings.Builder
	for _, id := range m.modules.Available() {
		mark := "○"
		if isLoaded[id] {
			mark = "●"
		}
		fmt.Fprintf(&b, "%s `%s`", mark, id)
		if m.modules.IsSystem(id) {
			b.WriteString(" (system)")
		}
		b.WriteString("\n")
	}

	return c.ReplyEphemeral(strings.TrimSuffix(b.String(), "\n"))
}

func quoteAll(ids []string) string {
	quoted := make([]string, 0, len(ids))
	for _, id := range ids {
		quoted = append(quoted, "`"+id+"`")
	}
	return strings.Join(quoted, ", ")
}
