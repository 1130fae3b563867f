// Package announce provides a module that posts scheduled announcements.
//
// Announcements are stored per guild in the module's configuration storage and are
// scheduled with a module.Worker whenever the module is loaded into the guild.
package announce

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/oklahomer/go-kasumi/logger"
	"github.com/robfig/cron/v3"

	"github.com/oklahomer/go-sarah-discord-modules/kvstore"
	"github.com/oklahomer/go-sarah-discord-modules/module"
)

const announcementsKey = "announcements"

// MaxAnnouncements caps how many announcements a guild can schedule.
const MaxAnnouncements = 10

// Announcement is one scheduled message.
type Announcement struct {
	Spec    string `yaml:"spec"`
	Channel string `yaml:"channel"`
	Message string `yaml:"message"`
}

// Announce schedules recurring messages per guild.
type Announce struct {
	module.Base
	config    *kvstore.Config
	messenger module.Messenger
	worker    *module.Worker

	// locks serializes updates of a guild's stored announcements and its jobs.
	locks sync.Map
}

var _ module.Commander = (*Announce)(nil)

// New is the module.Factory of Announce.
func New(env *module.Env) (*Announce, error) {
	if env.Messenger == nil {
		return nil, fmt.Errorf("messenger is not available")
	}
	return &Announce{
		config:    env.Config,
		messenger: env.Messenger,
		worker:    module.NewWorker(),
	}, nil
}

func (a *Announce) Description() string {
	return "Post recurring announcements."
}

func (a *Announce) Commands() []module.Command {
	return []module.Command{
		{
			Name:        "Schedule",
			Description: "Schedule a recurring announcement, e.g. \"0 9 * * MON\" or \"@every 12h\".",
			Permission:  discordgo.PermissionManageGuild,
			GuildOnly:   true,
			Params: []module.Param{
				{Name: "spec", Description: "Cron expression or @every duration."},
				{Name: "message", Description: "Text to post."},
				{Name: "channel", Description: "Channel to post to. Defaults to this channel.", Optional: true},
			},
			Handler: a.Schedule,
		},
		{
			Name:        "Clear",
			Description: "Remove every announcement of this server.",
			Permission:  discordgo.PermissionManageGuild,
			GuildOnly:   true,
			Handler:     a.Clear,
		},
		{
			Name:        "List",
			Description: "List the announcements of this server.",
			GuildOnly:   true,
			Handler:     a.List,
		},
	}
}

func (a *Announce) OnLoad(ctx context.Context, guildID string) {
	lock := a.lock(guildID)
	lock.Lock()
	defer lock.Unlock()

	announcements, err := a.announcements(ctx, guildID)
	if err != nil {
		logger.Errorf("Failed to read announcements of guild %s: %+v", guildID, err)
		return
	}

	for _, ann := range announcements {
		if err := a.start(guildID, ann); err != nil {
			logger.Errorf("Failed to schedule announcement of guild %s: %+v", guildID, err)
		}
	}
}

func (a *Announce) OnUnload(_ context.Context, guildID string) {
	lock := a.lock(guildID)
	lock.Lock()
	defer lock.Unlock()

	a.worker.Cancel(guildID)
}

// Close stops every scheduled announcement.
func (a *Announce) Close() error {
	a.worker.Stop()
	return nil
}

// Schedule handles /announce schedule.
func (a *Announce) Schedule(c *module.Context, spec, message string, channel *discordgo.Channel) error {
	spec = strings.TrimSpace(spec)
	if _, err := cron.ParseStandard(spec); err != nil {
		return c.ReplyEphemeral(fmt.Sprintf("`%s` is not a valid schedule: %s", spec, err))
	}

	channelID := c.ChannelID
	if channel != nil {
		channelID = channel.ID
	}

	lock := a.lock(c.GuildID)
	lock.Lock()
	defer lock.Unlock()

	announcements, err := a.announcements(c.Context(), c.GuildID)
	if err != nil {
		return err
	}
	if len(announcements) >= MaxAnnouncements {
		return c.ReplyEphemeral(fmt.Sprintf("This server already has %d announcements.", MaxAnnouncements))
	}

	ann := Announcement{Spec: spec, Channel: channelID, Message: message}
	if err := a.guild(c.GuildID).Set(c.Context(), announcementsKey, append(announcements, ann)); err != nil {
		return err
	}
	if err := a.start(c.GuildID, ann); err != nil {
		return err
	}

	return c.Reply(fmt.Sprintf("Announcement scheduled for `%s` in <#%s>.", spec, channelID))
}

// Clear handles /announce clear.
func (a *Announce) Clear(c *module.Context) error {
	lock := a.lock(c.GuildID)
	lock.Lock()
	defer lock.Unlock()

	a.worker.Cancel(c.GuildID)
	if err := a.guild(c.GuildID).Remove(c.Context(), announcementsKey); err != nil {
		return err
	}
	return c.Reply("All announcements removed.")
}

// List handles /announce list.
func (a *Announce) List(c *module.Context) error {
	announcements, err := a.announcements(c.Context(), c.GuildID)
	if err != nil {
		return err
	}
	if len(announcements) == 0 {
		return c.ReplyEphemeral("No announcements are scheduled.")
	}

	lines := make([]string, 0, len(announcements))
	for i, ann := range announcements {
		lines = append(lines, fmt.Sprintf("%d. `%s` in <#%s>: %s", i+1, ann.Spec, ann.Channel, ann.Message))
	}
	return c.ReplyEphemeral(strings.Join(lines, "\n"))
}

func (a *Announce) start(guildID string, ann Announcement) error {
	return a.worker.Schedule(guildID, ann.Spec, func() {
		if err := a.messenger.Post(ann.Channel, ann.Message); err != nil {
			logger.Warnf("Failed to post announcement to %s in guild %s: %+v", ann.Channel, guildID, err)
		}
	})
}

func (a *Announce) announcements(ctx context.Context, guildID string) ([]Announcement, error) {
	return kvstore.GetOr(ctx, a.guild(guildID), announcementsKey, []Announcement(nil))
}

func (a *Announce) lock(guildID string) *sync.Mutex {
	l, _ := a.locks.LoadOrStore(guildID, &sync.Mutex{})
	return l.(*sync.Mutex)
}

func (a *Announce) guild(guildID string) *kvstore.Config {
	return a.config.Sub("guilds", guildID)
}
