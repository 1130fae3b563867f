// Package botcontrol provides the system module that restarts or stops the bot process.
package botcontrol

import (
	"github.com/bwmarrin/discordgo"
	"github.com/oklahomer/go-kasumi/logger"

	"github.com/oklahomer/go-sarah-discord-modules/module"
)

// Exit codes handed to the shutdown function. A supervisor is expected to restart
// the process on ExitRestart only.
const (
	ExitRestart  = 0
	ExitShutdown = 1
)

// BotControl exposes process control to server administrators.
type BotControl struct {
	module.Base
	shutdown func(code int)
}

var _ module.Commander = (*BotControl)(nil)

// New is the module.Factory of BotControl.
func New(env *module.Env) (*BotControl, error) {
	shutdown := env.Shutdown
	if shutdown == nil {
		shutdown = func(int) {}
	}
	return &BotControl{shutdown: shutdown}, nil
}

func (b *BotControl) Description() string {
	return "Restart or shut down the bot."
}

func (b *BotControl) Commands() []module.Command {
	return []module.Command{
		{
			Name:        "Restart",
			Description: "Restart the bot.",
			Permission:  discordgo.PermissionAdministrator,
			GuildOnly:   true,
			Handler:     b.Restart,
		},
		{
			Name:        "Shutdown",
			Description: "Shut the bot down.",
			Permission:  discordgo.PermissionAdministrator,
			GuildOnly:   true,
			Handler:     b.Shutdown,
		},
	}
}

// Restart handles /bot-control restart.
func (b *BotControl) Restart(c *module.Context) error {
	logger.Infof("Restart requested by %s in guild %s.", c.UserID, c.GuildID)
	if err := c.Reply("Restarting."); err != nil {
		logger.Warnf("Failed to acknowledge restart: %+v", err)
	}
	b.shutdown(ExitRestart)
	return nil
}

// Shutdown handles /bot-control shutdown.
func (b *BotControl) Shutdown(c *module.Context) error {
	logger.Infof("Shutdown requested by %s in guild %s.", c.UserID, c.GuildID)
	if err := c.Reply("Shutting down."); err != nil {
		logger.Warnf("Failed to acknowledge shutdown: %+v", err)
	}
	b.shutdown(ExitShutdown)
	return nil
}
