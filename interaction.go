package discord

import (
	"context"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/oklahomer/go-kasumi/logger"

	"github.com/oklahomer/go-sarah-discord-modules/module"
)

func (a *Adapter) handleInteraction(ctx context.Context, i *discordgo.InteractionCreate) {
	if a.runtime == nil || i.Interaction == nil {
		return
	}

	responder := &interactionResponder{
		session:     a.session,
		interaction: i.Interaction,
	}
	if a.config.AcknowledgeAfter > 0 {
		responder.deferAfter(a.config.AcknowledgeAfter)
	}
	defer responder.settle()

	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		data := i.ApplicationCommandData()
		inv := &module.Invocation{
			GuildID:     i.GuildID,
			ChannelID:   i.ChannelID,
			UserID:      interactionUserID(i.Interaction),
			Command:     data.Name,
			Resolved:    data.Resolved,
			Interaction: i.Interaction,
			Responder:   responder,
		}
		if len(data.Options) > 0 && data.Options[0].Type == discordgo.ApplicationCommandOptionSubCommand {
			inv.Subcommand = data.Options[0].Name
			inv.Options = data.Options[0].Options
		}
		a.runtime.Dispatch(ctx, inv)

	case discordgo.InteractionMessageComponent:
		data := i.MessageComponentData()
		a.runtime.HandleComponent(ctx, &module.ComponentInvocation{
			GuildID:     i.GuildID,
			ChannelID:   i.ChannelID,
			UserID:      interactionUserID(i.Interaction),
			CustomID:    data.CustomID,
			Values:      data.Values,
			Interaction: i.Interaction,
			Responder:   responder,
		})

	default:
		logger.Debugf("Ignoring interaction of type %s.", i.Type)
	}
}

func interactionUserID(i *discordgo.Interaction) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

// interactionResponder answers an interaction. The first reply becomes the interaction
// response; later replies are sent as follow-up messages.
//
// When nothing was sent within the acknowledgement window, the interaction is deferred and
// the first reply edits the deferred response instead. That reply keeps the deferred
// response's visibility, so ephemeral replies are only private when sent in time.
type interactionResponder struct {
	session     session
	interaction *discordgo.Interaction

	mu    sync.Mutex
	state responseState
	timer *time.Timer
}

type responseState int

const (
	responsePending responseState = iota
	responseDeferred
	responseSent
)

var _ module.Responder = (*interactionResponder)(nil)

// deferAfter acknowledges the interaction after d unless a reply was sent by then.
func (r *interactionResponder) deferAfter(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.timer = time.AfterFunc(d, r.acknowledge)
}

// settle stops a pending acknowledgement. Handlers that never reply leave the interaction unanswered.
func (r *interactionResponder) settle() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.timer != nil {
		r.timer.Stop()
	}
}

func (r *interactionResponder) acknowledge() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != responsePending {
		return
	}

	err := r.session.InteractionRespond(r.interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	})
	if err != nil {
		logger.Errorf("Failed to acknowledge interaction %s: %+v", r.interaction.ID, err)
		return
	}
	r.state = responseDeferred
}

func (r *interactionResponder) Respond(content string, ephemeral bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var flags discordgo.MessageFlags
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}

	switch r.state {
	case responsePending:
		err := r.session.InteractionRespond(r.interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content: content,
				Flags:   flags,
			},
		})
		if err != nil {
			return err
		}
		if r.timer != nil {
			r.timer.Stop()
		}

	case responseDeferred:
		_, err := r.session.InteractionResponseEdit(r.interaction, &discordgo.WebhookEdit{
			Content: &content,
		})
		if err != nil {
			return err
		}

	default:
		_, err := r.session.FollowupMessageCreate(r.interaction, true, &discordgo.WebhookParams{
			Content: content,
			Flags:   flags,
		})
		return err
	}

	r.state = responseSent
	return nil
}
