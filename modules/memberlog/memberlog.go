// Package memberlog provides a module that reports member and message activity to a log channel.
package memberlog

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/oklahomer/go-kasumi/logger"

	"github.com/oklahomer/go-sarah-discord-modules/kvstore"
	"github.com/oklahomer/go-sarah-discord-modules/module"
)

const (
	channelKey = "channel"
	maxExcerpt = 800
)

// MemberLog posts member joins and leaves, message edits and deletions to a per-guild channel.
type MemberLog struct {
	module.Base
	config    *kvstore.Config
	messenger module.Messenger
}

var (
	_ module.Commander            = (*MemberLog)(nil)
	_ module.MemberJoinHandler    = (*MemberLog)(nil)
	_ module.MemberLeaveHandler   = (*MemberLog)(nil)
	_ module.MessageEditHandler   = (*MemberLog)(nil)
	_ module.MessageDeleteHandler = (*MemberLog)(nil)
)

// New is the module.Factory of MemberLog.
func New(env *module.Env) (*MemberLog, error) {
	if env.Messenger == nil {
		return nil, fmt.Errorf("messenger is not available")
	}
	return &MemberLog{
		config:    env.Config,
		messenger: env.Messenger,
	}, nil
}

func (m *MemberLog) Description() string {
	return "Log member and message activity to a channel."
}

func (m *MemberLog) Commands() []module.Command {
	return []module.Command{
		{
			Name:        "SetChannel",
			Description: "Choose the channel activity is logged to.",
			Permission:  discordgo.PermissionManageGuild,
			GuildOnly:   true,
			Params: []module.Param{
				{Name: "channel", Description: "Log channel."},
			},
			Handler: m.SetChannel,
		},
		{
			Name:        "Disable",
			Description: "Stop logging activity.",
			Permission:  discordgo.PermissionManageGuild,
			GuildOnly:   true,
			Handler:     m.Disable,
		},
	}
}

// SetChannel handles /member-log set-channel.
func (m *MemberLog) SetChannel(c *module.Context, channel *discordgo.Channel) error {
	if err := m.guild(c.GuildID).Set(c.Context(), channelKey, channel.ID); err != nil {
		return err
	}
	return c.Reply(fmt.Sprintf("Activity will be logged to <#%s>.", channel.ID))
}

// Disable handles /member-log disable.
func (m *MemberLog) Disable(c *module.Context) error {
	if err := m.guild(c.GuildID).Remove(c.Context(), channelKey); err != nil {
		return err
	}
	return c.Reply("Activity logging disabled.")
}

func (m *MemberLog) OnMemberJoined(ctx context.Context, guildID string, member *discordgo.Member) {
	if member.User == nil {
		return
	}
	m.post(ctx, guildID, "", fmt.Sprintf("📥 %s (%s) joined the server.", member.User.Mention(), member.User.String()))
}

func (m *MemberLog) OnMemberLeft(ctx context.Context, guildID string, member *discordgo.Member) {
	if member.User == nil {
		return
	}
	m.post(ctx, guildID, "", fmt.Sprintf("📤 %s (%s) left the server.", member.User.Mention(), member.User.String()))
}

func (m *MemberLog) OnMessageEdited(ctx context.Context, guildID string, before, after *discordgo.Message) {
	if before != nil && before.Content == after.Content {
		// Embed resolution and pin changes arrive as updates too.
		return
	}

	old := "*not cached*"
	if before != nil {
		old = excerpt(before.Content)
	}

	m.post(ctx, guildID, after.ChannelID, fmt.Sprintf("✏️ Message by %s edited in <#%s>\n**Before:** %s\n**After:** %s",
		author(after), after.ChannelID, old, excerpt(after.Content)))
}

func (m *MemberLog) OnMessageDeleted(ctx context.Context, guildID string, message *discordgo.Message) {
	content := "*not cached*"
	if message.Content != "" {
		content = excerpt(message.Content)
	}

	m.post(ctx, guildID, message.ChannelID, fmt.Sprintf("🗑️ Message by %s deleted in <#%s>\n%s",
		author(message), message.ChannelID, content))
}

// post sends text to the guild's log channel unless none is set or the event originated there.
func (m *MemberLog) post(ctx context.Context, guildID, sourceChannelID, text string) {
	channelID, err := kvstore.GetOr(ctx, m.guild(guildID), channelKey, "")
	if err != nil {
		logger.Errorf("Failed to read log channel of guild %s: %+v", guildID, err)
		return
	}
	if channelID == "" || channelID == sourceChannelID {
		return
	}

	if err := m.messenger.Post(channelID, text); err != nil {
		logger.Warnf("Failed to post to log channel %s of guild %s: %+v", channelID, guildID, err)
	}
}

func (m *MemberLog) guild(guildID string) *kvstore.Config {
	return m.config.Sub("guilds", guildID)
}

func author(message *discordgo.Message) string {
	if message.Author == nil {
		return "an unknown user"
	}
	return message.Author.Mention()
}

func excerpt(content string) string {
	runes := []rune(content)
	if len(runes) <= maxExcerpt {
		return content
	}
	return string(runes[:maxExcerpt]) + "…"
}
