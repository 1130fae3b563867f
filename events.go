package discord

import (
	"context"

	"github.com/bwmarrin/discordgo"
	"github.com/oklahomer/go-kasumi/logger"
)

func (a *Adapter) handleReady(r *discordgo.Ready) {
	guildIDs := make([]string, 0, len(r.Guilds))
	for _, g := range r.Guilds {
		guildIDs = append(guildIDs, g.ID)
	}

	a.mu.Lock()
	if a.config.ApplicationID == "" && r.Application != nil {
		a.appID = r.Application.ID
	}
	a.guildIDs = guildIDs
	a.mu.Unlock()

	a.ready.Store(true)
	logger.Infof("Connected to Discord with %d guilds.", len(guildIDs))
}

func (a *Adapter) handleGuildCreate(ctx context.Context, g *discordgo.GuildCreate) {
	if g.Guild == nil {
		return
	}

	a.mu.Lock()
	known := false
	for _, id := range a.guildIDs {
		if id == g.ID {
			known = true
			break
		}
	}
	if !known {
		a.guildIDs = append(a.guildIDs, g.ID)
	}
	a.mu.Unlock()

	if a.runtime != nil {
		a.runtime.EnsureGuild(ctx, g.ID)
	}
}

func (a *Adapter) handleGuildDelete(ctx context.Context, g *discordgo.GuildDelete) {
	if g.Guild == nil {
		return
	}
	if g.Unavailable {
		// Outage; the guild comes back with a GuildCreate.
		logger.Infof("Guild %s became unavailable.", g.ID)
		return
	}

	a.mu.Lock()
	for i, id := range a.guildIDs {
		if id == g.ID {
			a.guildIDs = append(a.guildIDs[:i], a.guildIDs[i+1:]...)
			break
		}
	}
	a.mu.Unlock()

	if a.runtime != nil {
		a.runtime.ForgetGuild(ctx, g.ID)
	}
}

func (a *Adapter) handleMemberAdd(ctx context.Context, m *discordgo.GuildMemberAdd) {
	if a.runtime == nil || m.Member == nil {
		return
	}
	a.runtime.MemberJoined(ctx, m.GuildID, m.Member)
}

func (a *Adapter) handleMemberRemove(ctx context.Context, m *discordgo.GuildMemberRemove) {
	if a.runtime == nil || m.Member == nil {
		return
	}
	a.runtime.MemberLeft(ctx, m.GuildID, m.Member)
}

func (a *Adapter) handleMessageUpdate(ctx context.Context, m *discordgo.MessageUpdate) {
	if a.runtime == nil || m.Message == nil || m.GuildID == "" {
		return
	}
	if m.Author != nil && m.Author.Bot {
		return
	}
	if m.EditedTimestamp == nil {
		// Link unfurls and pin changes arrive as updates without an edit.
		return
	}
	a.runtime.MessageEdited(ctx, m.GuildID, m.BeforeUpdate, m.Message)
}

// handleMessageDelete only forwards deletions from channels cached as guild channels.
func (a *Adapter) handleMessageDelete(ctx context.Context, state *discordgo.State, m *discordgo.MessageDelete) {
	if a.runtime == nil || m.Message == nil || state == nil {
		return
	}

	ch, err := state.Channel(m.ChannelID)
	if err != nil || ch.GuildID == "" {
		logger.Debugf("Ignoring deletion of message %s in channel %s.", m.ID, m.ChannelID)
		return
	}

	message := m.Message
	if m.BeforeDelete != nil {
		message = m.BeforeDelete
	}
	a.runtime.MessageDeleted(ctx, ch.GuildID, message)
}
