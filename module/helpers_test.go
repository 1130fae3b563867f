package module

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"
)

type reply struct {
	content   string
	ephemeral bool
}

// recorder is a Responder that keeps every reply.
type recorder struct {
	mu      sync.Mutex
	replies []reply
}

func (r *recorder) Respond(content string, ephemeral bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.replies = append(r.replies, reply{content: content, ephemeral: ephemeral})
	return nil
}

func (r *recorder) all() []reply {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]reply(nil), r.replies...)
}

// fakeRegistrar implements CommandRegistrar.
type fakeRegistrar struct {
	mu         sync.Mutex
	createFunc func(guildID string, cmd *discordgo.ApplicationCommand) (string, error)
	created    []string
	deleted    []string
	seq        int
}

func (f *fakeRegistrar) CreateGuildCommand(guildID string, cmd *discordgo.ApplicationCommand) (string, error) {
	if f.createFunc != nil {
		id, err := f.createFunc(guildID, cmd)
		if err != nil {
			return "", err
		}
		f.mu.Lock()
		f.created = append(f.created, guildID+"/"+cmd.Name)
		f.mu.Unlock()
		return id, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.seq++
	f.created = append(f.created, guildID+"/"+cmd.Name)
	return fmt.Sprintf("cmd-%d", f.seq), nil
}

func (f *fakeRegistrar) DeleteGuildCommand(guildID, commandID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.deleted = append(f.deleted, guildID+"/"+commandID)
	return nil
}

// memoryState is a StateStore that counts saves.
type memoryState struct {
	mu      sync.Mutex
	state   map[string][]string
	loadErr error
	saves   int

	// onLoad runs before the state is read, outside the lock.
	onLoad func()
}

func (s *memoryState) LoadState(context.Context) (map[string][]string, error) {
	if s.onLoad != nil {
		s.onLoad()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loadErr != nil {
		return nil, s.loadErr
	}
	copied := map[string][]string{}
	for k, v := range s.state {
		copied[k] = append([]string(nil), v...)
	}
	return copied, nil
}

func (s *memoryState) SaveState(_ context.Context, state map[string][]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.saves++
	s.state = state
	return nil
}

func (s *memoryState) snapshot() (map[string][]string, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state, s.saves
}

// probe is a configurable module that records its lifecycle.
type probe struct {
	Base

	declineLoad   error
	declineUnload error
	commands      []Command

	mu       sync.Mutex
	loaded   []string
	unloaded []string
	joined   []string
	closed   atomic.Int32
}

func (p *probe) TryLoad(context.Context, string) error {
	return p.declineLoad
}

func (p *probe) TryUnload(context.Context, string) error {
	return p.declineUnload
}

func (p *probe) OnLoad(_ context.Context, guildID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.loaded = append(p.loaded, guildID)
}

func (p *probe) OnUnload(_ context.Context, guildID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.unloaded = append(p.unloaded, guildID)
}

func (p *probe) OnMemberJoined(_ context.Context, guildID string, member *discordgo.Member) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.joined = append(p.joined, guildID+"/"+member.User.ID)
}

func (p *probe) Commands() []Command {
	return p.commands
}

func (p *probe) Close() error {
	p.closed.Add(1)
	return nil
}

// probeFactory registers a factory that hands out the instances produced by newProbe
// and counts constructions.
type probeFactory struct {
	newProbe     func() *probe
	err          error
	constructed  atomic.Int32
	mu           sync.Mutex
	instances    []*probe
	receivedEnvs []*Env
}

func (f *probeFactory) build(env *Env) (Module, error) {
	f.constructed.Add(1)
	if f.err != nil {
		return nil, f.err
	}

	p := &probe{}
	if f.newProbe != nil {
		p = f.newProbe()
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.instances = append(f.instances, p)
	f.receivedEnvs = append(f.receivedEnvs, env)
	return p, nil
}

func (f *probeFactory) last() *probe {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.instances) == 0 {
		return nil
	}
	return f.instances[len(f.instances)-1]
}

var errDeclined = errors.New("not today")
