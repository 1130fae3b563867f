package module

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type managerFixture struct {
	registry   *Registry
	dispatcher *Dispatcher
	registrar  *fakeRegistrar
	state      *memoryState
	manager    *Manager
	factories  map[string]*probeFactory
}

func newManagerFixture(t *testing.T, ids []string, options ...ManagerOption) *managerFixture {
	t.Helper()

	f := &managerFixture{
		registry:   NewRegistry(),
		dispatcher: NewDispatcher(WithTimeout(time.Second)),
		registrar:  &fakeRegistrar{},
		state:      &memoryState{},
		factories:  map[string]*probeFactory{},
	}
	for _, id := range ids {
		pf := &probeFactory{}
		f.factories[id] = pf
		require.NoError(t, f.registry.Register(id, pf.build))
	}

	opts := append([]ManagerOption{
		WithCommandRegistrar(f.registrar),
		WithStateStore(f.state),
		WithRegisterRetry(func() backoff.BackOff {
			return backoff.NewConstantBackOff(time.Millisecond)
		}, 3),
	}, options...)
	f.manager = NewManager(f.registry, f.dispatcher, opts...)

	return f
}

func pingCommands() []Command {
	return []Command{
		{
			Name: "Ping",
			Handler: func(c *Context) error {
				return c.Reply("pong")
			},
		},
	}
}

func TestManager_Load(t *testing.T) {
	ctx := context.Background()

	t.Run("module is loaded and persisted", func(t *testing.T) {
		f := newManagerFixture(t, []string{"alpha"})

		require.NoError(t, f.manager.Load(ctx, "g1", "alpha"))

		assert.True(t, f.manager.IsLoaded("g1", "alpha"))
		assert.Equal(t, 1, f.manager.UsageCount("alpha"))
		assert.Equal(t, []string{"alpha"}, f.manager.LoadedModules("g1"))
		assert.Equal(t, []string{"g1"}, f.factories["alpha"].last().loaded)

		state, saves := f.state.snapshot()
		assert.Equal(t, map[string][]string{"g1": {"alpha"}}, state)
		assert.Equal(t, 1, saves)
	})

	t.Run("loading twice fails without side effects", func(t *testing.T) {
		f := newManagerFixture(t, []string{"alpha"})
		require.NoError(t, f.manager.Load(ctx, "g1", "alpha"))

		err := f.manager.Load(ctx, "g1", "alpha")

		assert.ErrorIs(t, err, ErrAlreadyLoaded)
		assert.Equal(t, 1, f.manager.UsageCount("alpha"))
		_, saves := f.state.snapshot()
		assert.Equal(t, 1, saves)
	})

	t.Run("unknown module", func(t *testing.T) {
		f := newManagerFixture(t, nil)

		err := f.manager.Load(ctx, "g1", "missing")

		assert.ErrorIs(t, err, ErrNotFound)
		assert.Empty(t, f.manager.Snapshot())
	})

	t.Run("factory failure is a LoadError", func(t *testing.T) {
		f := newManagerFixture(t, []string{"alpha"})
		f.factories["alpha"].err = errors.New("no database")

		err := f.manager.Load(ctx, "g1", "alpha")

		var loadErr *LoadError
		require.ErrorAs(t, err, &loadErr)
		assert.Equal(t, "alpha", loadErr.Module)
		assert.Contains(t, err.Error(), "module alpha errored while loading")
		assert.False(t, f.manager.Live("alpha"))
		assert.False(t, f.manager.IsLoaded("g1", "alpha"))
		_, saves := f.state.snapshot()
		assert.Zero(t, saves)
	})

	t.Run("factory panic is a LoadError", func(t *testing.T) {
		f := newManagerFixture(t, nil)
		require.NoError(t, f.registry.Register("boom", func(*Env) (Module, error) {
			panic("kaboom")
		}))

		err := f.manager.Load(ctx, "g1", "boom")

		var loadErr *LoadError
		assert.ErrorAs(t, err, &loadErr)
		assert.False(t, f.manager.Live("boom"))
	})

	t.Run("invalid command declaration is a LoadError", func(t *testing.T) {
		f := newManagerFixture(t, []string{"alpha"})
		f.factories["alpha"].newProbe = func() *probe {
			return &probe{commands: []Command{{Name: "Broken", Handler: func() {}}}}
		}

		err := f.manager.Load(ctx, "g1", "alpha")

		var loadErr *LoadError
		require.ErrorAs(t, err, &loadErr)
		assert.ErrorIs(t, err, ErrInvalidSignature)
		assert.False(t, f.manager.Live("alpha"))
		assert.Equal(t, int32(1), f.factories["alpha"].last().closed.Load())
	})

	t.Run("declined load destroys the fresh instance", func(t *testing.T) {
		f := newManagerFixture(t, []string{"alpha"})
		f.factories["alpha"].newProbe = func() *probe {
			return &probe{declineLoad: errDeclined}
		}

		err := f.manager.Load(ctx, "g1", "alpha")

		var declined *DeclinedError
		require.ErrorAs(t, err, &declined)
		assert.Equal(t, "g1", declined.GuildID)
		assert.ErrorIs(t, err, errDeclined)
		assert.False(t, f.manager.Live("alpha"))
		assert.False(t, f.manager.IsLoaded("g1", "alpha"))
		assert.Equal(t, int32(1), f.factories["alpha"].last().closed.Load())
		assert.Empty(t, f.factories["alpha"].last().loaded)
	})

	t.Run("declined load keeps an instance used elsewhere", func(t *testing.T) {
		f := newManagerFixture(t, []string{"alpha"})
		require.NoError(t, f.manager.Load(ctx, "g1", "alpha"))
		f.factories["alpha"].last().declineLoad = errDeclined

		err := f.manager.Load(ctx, "g2", "alpha")

		assert.ErrorIs(t, err, errDeclined)
		assert.True(t, f.manager.Live("alpha"))
		assert.Equal(t, 1, f.manager.UsageCount("alpha"))
	})

	t.Run("instance is shared across guilds", func(t *testing.T) {
		f := newManagerFixture(t, []string{"alpha"})

		require.NoError(t, f.manager.Load(ctx, "g1", "alpha"))
		require.NoError(t, f.manager.Load(ctx, "g2", "alpha"))

		assert.Equal(t, int32(1), f.factories["alpha"].constructed.Load())
		assert.Equal(t, 2, f.manager.UsageCount("alpha"))
		assert.Equal(t, []string{"g1", "g2"}, f.factories["alpha"].last().loaded)
	})

	t.Run("module receives its own configuration scope", func(t *testing.T) {
		f := newManagerFixture(t, []string{"alpha"})

		require.NoError(t, f.manager.Load(ctx, "g1", "alpha"))

		env := f.factories["alpha"].receivedEnvs[0]
		assert.Equal(t, "alpha", env.ID)
		assert.Equal(t, "modules/alpha", env.Config.Path())
		assert.Same(t, f.manager, env.Modules)
	})

	t.Run("commands are registered for the guild", func(t *testing.T) {
		f := newManagerFixture(t, []string{"alpha"})
		f.factories["alpha"].newProbe = func() *probe {
			return &probe{commands: pingCommands()}
		}

		require.NoError(t, f.manager.Load(ctx, "g1", "alpha"))

		assert.Equal(t, []string{"g1/alpha"}, f.registrar.created)
		assert.True(t, f.dispatcher.Bound("alpha"))
	})

	t.Run("modules without commands are not registered", func(t *testing.T) {
		f := newManagerFixture(t, []string{"alpha"})

		require.NoError(t, f.manager.Load(ctx, "g1", "alpha"))

		assert.Empty(t, f.registrar.created)
	})
}

func TestManager_Load_registrationRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("rate limited registration is retried", func(t *testing.T) {
		f := newManagerFixture(t, []string{"alpha"})
		f.factories["alpha"].newProbe = func() *probe {
			return &probe{commands: pingCommands()}
		}
		calls := 0
		f.registrar.createFunc = func(string, *discordgo.ApplicationCommand) (string, error) {
			calls++
			if calls < 3 {
				return "", &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusTooManyRequests, Status: "429 Too Many Requests"}}
			}
			return "cmd-1", nil
		}

		require.NoError(t, f.manager.Load(ctx, "g1", "alpha"))

		assert.Equal(t, 3, calls)
		assert.True(t, f.manager.IsLoaded("g1", "alpha"))
	})

	t.Run("rate limit error type is retried", func(t *testing.T) {
		f := newManagerFixture(t, []string{"alpha"})
		f.factories["alpha"].newProbe = func() *probe {
			return &probe{commands: pingCommands()}
		}
		calls := 0
		f.registrar.createFunc = func(string, *discordgo.ApplicationCommand) (string, error) {
			calls++
			if calls == 1 {
				return "", &discordgo.RateLimitError{RateLimit: &discordgo.RateLimit{TooManyRequests: &discordgo.TooManyRequests{}, URL: "/commands"}}
			}
			return "cmd-1", nil
		}

		require.NoError(t, f.manager.Load(ctx, "g1", "alpha"))
		assert.Equal(t, 2, calls)
	})

	t.Run("other failures are not retried", func(t *testing.T) {
		f := newManagerFixture(t, []string{"alpha"})
		f.factories["alpha"].newProbe = func() *probe {
			return &probe{commands: pingCommands()}
		}
		calls := 0
		f.registrar.createFunc = func(string, *discordgo.ApplicationCommand) (string, error) {
			calls++
			return "", &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusBadRequest, Status: "400 Bad Request"}}
		}

		err := f.manager.Load(ctx, "g1", "alpha")

		var loadErr *LoadError
		require.ErrorAs(t, err, &loadErr)
		assert.Equal(t, 1, calls)
		assert.False(t, f.manager.Live("alpha"))
		assert.False(t, f.dispatcher.Bound("alpha"))
		assert.Empty(t, f.factories["alpha"].last().loaded)
	})

	t.Run("retries are bounded", func(t *testing.T) {
		f := newManagerFixture(t, []string{"alpha"})
		f.factories["alpha"].newProbe = func() *probe {
			return &probe{commands: pingCommands()}
		}
		calls := 0
		f.registrar.createFunc = func(string, *discordgo.ApplicationCommand) (string, error) {
			calls++
			return "", &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusTooManyRequests, Status: "429 Too Many Requests"}}
		}

		err := f.manager.Load(ctx, "g1", "alpha")

		var loadErr *LoadError
		require.ErrorAs(t, err, &loadErr)
		assert.Equal(t, 3, calls)
	})
}

func TestManager_Unload(t *testing.T) {
	ctx := context.Background()

	t.Run("last unload destroys the instance", func(t *testing.T) {
		f := newManagerFixture(t, []string{"alpha"})
		f.factories["alpha"].newProbe = func() *probe {
			return &probe{commands: pingCommands()}
		}
		require.NoError(t, f.manager.Load(ctx, "g1", "alpha"))
		require.NoError(t, f.manager.Load(ctx, "g2", "alpha"))
		p := f.factories["alpha"].last()

		require.NoError(t, f.manager.Unload(ctx, "g1", "alpha"))
		assert.True(t, f.manager.Live("alpha"))
		assert.Equal(t, 1, f.manager.UsageCount("alpha"))
		assert.Zero(t, p.closed.Load())

		require.NoError(t, f.manager.Unload(ctx, "g2", "alpha"))
		assert.False(t, f.manager.Live("alpha"))
		assert.Equal(t, int32(1), p.closed.Load())
		assert.Equal(t, []string{"g1", "g2"}, p.unloaded)
		assert.False(t, f.dispatcher.Bound("alpha"))
		assert.Equal(t, []string{"g1/cmd-1", "g2/cmd-2"}, f.registrar.deleted)

		state, _ := f.state.snapshot()
		assert.Empty(t, state)
	})

	t.Run("reload after destruction constructs a new instance", func(t *testing.T) {
		f := newManagerFixture(t, []string{"alpha"})
		require.NoError(t, f.manager.Load(ctx, "g1", "alpha"))
		require.NoError(t, f.manager.Unload(ctx, "g1", "alpha"))

		require.NoError(t, f.manager.Load(ctx, "g1", "alpha"))

		assert.Equal(t, int32(2), f.factories["alpha"].constructed.Load())
	})

	t.Run("not loaded", func(t *testing.T) {
		f := newManagerFixture(t, []string{"alpha"})

		err := f.manager.Unload(ctx, "g1", "alpha")

		assert.ErrorIs(t, err, ErrNotLoaded)
	})

	t.Run("system modules are protected", func(t *testing.T) {
		f := newManagerFixture(t, []string{"core"}, WithSystemModules("core"))
		require.NoError(t, f.manager.Load(ctx, "g1", "core"))

		assert.ErrorIs(t, f.manager.Unload(ctx, "g1", "core"), ErrProtected)
		assert.ErrorIs(t, f.manager.Unload(ctx, "g2", "core"), ErrProtected)
		assert.True(t, f.manager.IsLoaded("g1", "core"))
	})

	t.Run("declined unload keeps the module loaded", func(t *testing.T) {
		f := newManagerFixture(t, []string{"alpha"})
		require.NoError(t, f.manager.Load(ctx, "g1", "alpha"))
		f.factories["alpha"].last().declineUnload = errDeclined

		err := f.manager.Unload(ctx, "g1", "alpha")

		var declined *DeclinedError
		require.ErrorAs(t, err, &declined)
		assert.True(t, f.manager.IsLoaded("g1", "alpha"))
		assert.Equal(t, 1, f.manager.UsageCount("alpha"))
		assert.Empty(t, f.factories["alpha"].last().unloaded)
	})
}

func TestManager_RestoreAll(t *testing.T) {
	ctx := context.Background()

	t.Run("system and persisted modules are restored", func(t *testing.T) {
		f := newManagerFixture(t, []string{"core", "alpha", "beta"}, WithSystemModules("core"))
		f.state.state = map[string][]string{
			"g1": {"alpha", "core"},
			"g3": {"beta", "gone"},
		}

		f.manager.RestoreAll(ctx, []string{"g1", "g2"})

		assert.True(t, f.manager.Restored())
		assert.Equal(t, []string{"alpha", "core"}, f.manager.LoadedModules("g1"))
		assert.Equal(t, []string{"core"}, f.manager.LoadedModules("g2"))
		assert.Equal(t, []string{"beta", "core"}, f.manager.LoadedModules("g3"))
		assert.Equal(t, 3, f.manager.UsageCount("core"))
		assert.Equal(t, int32(1), f.factories["core"].constructed.Load())

		state, saves := f.state.snapshot()
		assert.Equal(t, 1, saves)
		assert.Equal(t, map[string][]string{
			"g1": {"alpha", "core"},
			"g2": {"core"},
			"g3": {"beta", "core"},
		}, state)
	})

	t.Run("nothing to restore writes nothing", func(t *testing.T) {
		f := newManagerFixture(t, []string{"alpha"})

		f.manager.RestoreAll(ctx, []string{"g1"})

		_, saves := f.state.snapshot()
		assert.Zero(t, saves)
		assert.True(t, f.manager.Restored())
	})

	t.Run("failures are skipped", func(t *testing.T) {
		f := newManagerFixture(t, []string{"alpha", "beta"})
		f.factories["alpha"].err = errors.New("broken")
		f.state.state = map[string][]string{"g1": {"alpha", "beta"}}

		f.manager.RestoreAll(ctx, nil)

		assert.Equal(t, []string{"beta"}, f.manager.LoadedModules("g1"))
		state, _ := f.state.snapshot()
		assert.Equal(t, map[string][]string{"g1": {"beta"}}, state)
	})

	t.Run("unreadable state starts empty", func(t *testing.T) {
		f := newManagerFixture(t, []string{"core"}, WithSystemModules("core"))
		f.state.loadErr = errors.New("corrupted")

		f.manager.RestoreAll(ctx, []string{"g1"})

		assert.Equal(t, []string{"core"}, f.manager.LoadedModules("g1"))
	})
}

func TestManager_EnsureGuild(t *testing.T) {
	ctx := context.Background()
	f := newManagerFixture(t, []string{"core"}, WithSystemModules("core"))

	f.manager.EnsureGuild(ctx, "g1")
	assert.Empty(t, f.manager.LoadedModules("g1"), "guilds are not touched before restore completes")

	f.manager.RestoreAll(ctx, nil)
	f.manager.EnsureGuild(ctx, "g1")
	f.manager.EnsureGuild(ctx, "g1")

	assert.Equal(t, []string{"core"}, f.manager.LoadedModules("g1"))
	assert.Equal(t, 1, f.manager.UsageCount("core"))
}

func TestManager_EnsureGuild_duringRestore(t *testing.T) {
	ctx := context.Background()

	t.Run("guild joined while restoring gets system modules", func(t *testing.T) {
		f := newManagerFixture(t, []string{"core"}, WithSystemModules("core"))
		f.state.onLoad = func() {
			f.manager.EnsureGuild(ctx, "late")
		}

		f.manager.RestoreAll(ctx, []string{"g1"})

		assert.Equal(t, []string{"core"}, f.manager.LoadedModules("g1"))
		assert.Equal(t, []string{"core"}, f.manager.LoadedModules("late"))
		assert.Equal(t, 2, f.manager.UsageCount("core"))
		state, _ := f.state.snapshot()
		assert.Equal(t, map[string][]string{"g1": {"core"}, "late": {"core"}}, state)
	})

	t.Run("guild left before restore completes is dropped", func(t *testing.T) {
		f := newManagerFixture(t, []string{"core"}, WithSystemModules("core"))
		f.state.onLoad = func() {
			f.manager.EnsureGuild(ctx, "gone")
			f.manager.ForgetGuild(ctx, "gone")
		}

		f.manager.RestoreAll(ctx, []string{"g1"})

		assert.Empty(t, f.manager.LoadedModules("gone"))
		assert.Equal(t, 1, f.manager.UsageCount("core"))
	})
}

func TestManager_ForgetGuild(t *testing.T) {
	ctx := context.Background()
	f := newManagerFixture(t, []string{"core", "alpha"}, WithSystemModules("core"))
	f.manager.RestoreAll(ctx, []string{"g1", "g2"})
	require.NoError(t, f.manager.Load(ctx, "g1", "alpha"))

	f.manager.ForgetGuild(ctx, "g1")

	assert.Empty(t, f.manager.LoadedModules("g1"))
	assert.False(t, f.manager.Live("alpha"))
	assert.Equal(t, 1, f.manager.UsageCount("core"))
	state, _ := f.state.snapshot()
	assert.Equal(t, map[string][]string{"g2": {"core"}}, state)
}

func TestManager_Close(t *testing.T) {
	ctx := context.Background()
	f := newManagerFixture(t, []string{"alpha", "beta"})
	require.NoError(t, f.manager.Load(ctx, "g1", "alpha"))
	require.NoError(t, f.manager.Load(ctx, "g1", "beta"))
	_, savesBefore := f.state.snapshot()

	f.manager.Close()

	assert.False(t, f.manager.Live("alpha"))
	assert.False(t, f.manager.Live("beta"))
	assert.Equal(t, int32(1), f.factories["alpha"].last().closed.Load())
	assert.Empty(t, f.factories["alpha"].last().unloaded, "closing is not unloading")
	_, savesAfter := f.state.snapshot()
	assert.Equal(t, savesBefore, savesAfter)
}

func TestManager_Available(t *testing.T) {
	f := newManagerFixture(t, []string{"beta", "alpha"}, WithSystemModules("alpha"))

	assert.Equal(t, []string{"alpha", "beta"}, f.manager.Available())
	assert.True(t, f.manager.IsSystem("alpha"))
	assert.False(t, f.manager.IsSystem("beta"))
}

func TestManager_concurrentLoad(t *testing.T) {
	ctx := context.Background()

	t.Run("different guilds share one instance", func(t *testing.T) {
		f := newManagerFixture(t, []string{"alpha"})

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				assert.NoError(t, f.manager.Load(ctx, fmt.Sprintf("g%d", i), "alpha"))
			}(i)
		}
		wg.Wait()

		assert.Equal(t, int32(1), f.factories["alpha"].constructed.Load())
		assert.Equal(t, 20, f.manager.UsageCount("alpha"))
		assert.Len(t, f.manager.Snapshot(), 20)
	})

	t.Run("same guild loads exactly once", func(t *testing.T) {
		f := newManagerFixture(t, []string{"alpha"})

		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
		)
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := f.manager.Load(ctx, "g1", "alpha")
				if err == nil {
					mu.Lock()
					successes++
					mu.Unlock()
					return
				}
				assert.ErrorIs(t, err, ErrAlreadyLoaded)
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, successes)
		assert.Equal(t, 1, f.manager.UsageCount("alpha"))
	})

	t.Run("loads and unloads interleave consistently", func(t *testing.T) {
		f := newManagerFixture(t, []string{"alpha", "beta"})

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			guildID := fmt.Sprintf("g%d", i)
			for _, id := range []string{"alpha", "beta"} {
				wg.Add(1)
				go func(id string) {
					defer wg.Done()
					assert.NoError(t, f.manager.Load(ctx, guildID, id))
					assert.NoError(t, f.manager.Unload(ctx, guildID, id))
				}(id)
			}
		}
		wg.Wait()

		assert.False(t, f.manager.Live("alpha"))
		assert.False(t, f.manager.Live("beta"))
		assert.Empty(t, f.manager.Snapshot())
		state, _ := f.state.snapshot()
		assert.Empty(t, state)
	})
}

func TestManager_Dispatch(t *testing.T) {
	ctx := context.Background()
	f := newManagerFixture(t, []string{"alpha"})
	f.factories["alpha"].newProbe = func() *probe {
		return &probe{commands: pingCommands()}
	}
	require.NoError(t, f.manager.Load(ctx, "g1", "alpha"))

	t.Run("loaded guild is served", func(t *testing.T) {
		rec := &recorder{}
		f.manager.Dispatch(ctx, &Invocation{GuildID: "g1", Command: "alpha", Subcommand: "ping", Responder: rec})

		assert.Equal(t, []reply{{content: "pong"}}, rec.all())
	})

	t.Run("guild without the module is ignored", func(t *testing.T) {
		rec := &recorder{}
		f.manager.Dispatch(ctx, &Invocation{GuildID: "g2", Command: "alpha", Subcommand: "ping", Responder: rec})

		assert.Empty(t, rec.all())
	})
}

type panickyJoiner struct {
	Base
}

func (panickyJoiner) OnMemberJoined(context.Context, string, *discordgo.Member) {
	panic("boom")
}

func TestManager_events(t *testing.T) {
	ctx := context.Background()
	f := newManagerFixture(t, []string{"alpha", "beta"})
	require.NoError(t, f.registry.Register("aaa-panicky", func(*Env) (Module, error) {
		return panickyJoiner{}, nil
	}))
	require.NoError(t, f.manager.Load(ctx, "g1", "aaa-panicky"))
	require.NoError(t, f.manager.Load(ctx, "g1", "alpha"))
	require.NoError(t, f.manager.Load(ctx, "g2", "beta"))

	f.manager.MemberJoined(ctx, "g1", &discordgo.Member{User: &discordgo.User{ID: "u1"}})

	assert.Equal(t, []string{"g1/u1"}, f.factories["alpha"].last().joined)
	assert.Empty(t, f.factories["beta"].last().joined)
}

type clicker struct {
	Base
	got []string
}

func (c *clicker) OnComponent(ctx *Context, customID string, values []string) error {
	c.got = append(c.got, customID)
	c.got = append(c.got, values...)
	return ctx.ReplyEphemeral("clicked")
}

func TestManager_HandleComponent(t *testing.T) {
	ctx := context.Background()
	f := newManagerFixture(t, nil)
	c := &clicker{}
	require.NoError(t, f.registry.Register("clicker", func(*Env) (Module, error) {
		return c, nil
	}))
	require.NoError(t, f.manager.Load(ctx, "g1", "clicker"))

	t.Run("routed by prefix", func(t *testing.T) {
		rec := &recorder{}
		f.manager.HandleComponent(ctx, &ComponentInvocation{
			GuildID:   "g1",
			CustomID:  ComponentID("clicker", "pick"),
			Values:    []string{"a"},
			Responder: rec,
		})

		assert.Equal(t, []string{"pick", "a"}, c.got)
		assert.Equal(t, []reply{{content: "clicked", ephemeral: true}}, rec.all())
	})

	t.Run("not loaded or unprefixed is ignored", func(t *testing.T) {
		c.got = nil
		f.manager.HandleComponent(ctx, &ComponentInvocation{GuildID: "g2", CustomID: "clicker:pick"})
		f.manager.HandleComponent(ctx, &ComponentInvocation{GuildID: "g1", CustomID: "pick"})

		assert.Empty(t, c.got)
	})
}

func TestManager_Snapshot(t *testing.T) {
	ctx := context.Background()
	f := newManagerFixture(t, []string{"beta", "alpha"})
	require.NoError(t, f.manager.Load(ctx, "g1", "beta"))
	require.NoError(t, f.manager.Load(ctx, "g1", "alpha"))

	snapshot := f.manager.Snapshot()
	ids := snapshot["g1"]

	assert.True(t, sort.StringsAreSorted(ids))
	assert.Equal(t, []string{"alpha", "beta"}, ids)
}
