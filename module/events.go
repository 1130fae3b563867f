package module

import (
	"context"
	"sort"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	"github.com/oklahomer/go-kasumi/logger"
)

const componentSeparator = ":"

// ComponentID builds a component custom ID that is routed back to moduleID's ComponentHandler
// with id as its customID argument.
func ComponentID(moduleID, id string) string {
	return moduleID + componentSeparator + id
}

// ComponentInvocation is an inbound button click or menu selection.
type ComponentInvocation struct {
	GuildID   string
	ChannelID string
	UserID    string
	CustomID  string
	Values    []string

	Interaction *discordgo.Interaction
	Responder   Responder
}

// HandleComponent routes a component interaction to the module named by its custom ID prefix.
// Interactions for modules not loaded in the guild are ignored.
func (m *Manager) HandleComponent(ctx context.Context, inv *ComponentInvocation) {
	moduleID, customID, ok := strings.Cut(inv.CustomID, componentSeparator)
	if !ok {
		logger.Debugf("Ignoring component %q without module prefix.", inv.CustomID)
		return
	}
	if inv.GuildID != "" && !m.IsLoaded(inv.GuildID, moduleID) {
		logger.Debugf("Ignoring component %q: module %s is not loaded for guild %s.", inv.CustomID, moduleID, inv.GuildID)
		return
	}

	m.mu.RLock()
	inst, ok := m.instances[moduleID]
	m.mu.RUnlock()
	if !ok {
		return
	}

	handler, ok := inst.module.(ComponentHandler)
	if !ok {
		logger.Debugf("Module %s does not handle components.", moduleID)
		return
	}

	c := NewContext(ctx, &Invocation{
		GuildID:     inv.GuildID,
		ChannelID:   inv.ChannelID,
		UserID:      inv.UserID,
		Interaction: inv.Interaction,
		Responder:   inv.Responder,
	})
	c.InvocationID = uuid.NewString()

	m.dispatcher.execute(c, "component "+inv.CustomID, func() error {
		return handler.OnComponent(c, customID, inv.Values)
	})
}

// MemberJoined notifies the guild's loaded modules that a member joined.
func (m *Manager) MemberJoined(ctx context.Context, guildID string, member *discordgo.Member) {
	for _, inst := range m.loadedInstances(guildID) {
		if h, ok := inst.module.(MemberJoinHandler); ok {
			safely(inst.id, "OnMemberJoined", func() {
				h.OnMemberJoined(ctx, guildID, member)
			})
		}
	}
}

// MemberLeft notifies the guild's loaded modules that a member left.
func (m *Manager) MemberLeft(ctx context.Context, guildID string, member *discordgo.Member) {
	for _, inst := range m.loadedInstances(guildID) {
		if h, ok := inst.module.(MemberLeaveHandler); ok {
			safely(inst.id, "OnMemberLeft", func() {
				h.OnMemberLeft(ctx, guildID, member)
			})
		}
	}
}

// MessageEdited notifies the guild's loaded modules that a message was edited.
func (m *Manager) MessageEdited(ctx context.Context, guildID string, before, after *discordgo.Message) {
	for _, inst := range m.loadedInstances(guildID) {
		if h, ok := inst.module.(MessageEditHandler); ok {
			safely(inst.id, "OnMessageEdited", func() {
				h.OnMessageEdited(ctx, guildID, before, after)
			})
		}
	}
}

// MessageDeleted notifies the guild's loaded modules that a message was deleted.
func (m *Manager) MessageDeleted(ctx context.Context, guildID string, message *discordgo.Message) {
	for _, inst := range m.loadedInstances(guildID) {
		if h, ok := inst.module.(MessageDeleteHandler); ok {
			safely(inst.id, "OnMessageDeleted", func() {
				h.OnMessageDeleted(ctx, guildID, message)
			})
		}
	}
}

func (m *Manager) loadedInstances(guildID string) []*instance {
	m.mu.RLock()
	defer m.mu.RUnlock()

	instances := make([]*instance, 0, len(m.guilds[guildID]))
	for moduleID := range m.guilds[guildID] {
		if inst, ok := m.instances[moduleID]; ok {
			instances = append(instances, inst)
		}
	}
	sort.Slice(instances, func(i, j int) bool {
		return instances[i].id < instances[j].id
	})
	return instances
}
