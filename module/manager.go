package module

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/cenkalti/backoff/v5"
	"github.com/oklahomer/go-kasumi/logger"

	"github.com/oklahomer/go-sarah-discord-modules/kvstore"
)

// CommandRegistrar registers slash commands with the chat platform, one guild at a time.
type CommandRegistrar interface {
	// CreateGuildCommand registers cmd for guildID and returns the platform's command ID.
	CreateGuildCommand(guildID string, cmd *discordgo.ApplicationCommand) (string, error)
	DeleteGuildCommand(guildID, commandID string) error
}

// ManagerOption defines a function signature for Manager's functional options.
type ManagerOption func(*Manager)

// WithCommandRegistrar sets where module commands are registered when a module is loaded for a guild.
func WithCommandRegistrar(registrar CommandRegistrar) ManagerOption {
	return func(m *Manager) {
		m.registrar = registrar
	}
}

// WithStateStore sets where the loaded-module snapshot is persisted.
// Without it, load state does not survive restarts.
func WithStateStore(state StateStore) ManagerOption {
	return func(m *Manager) {
		m.state = state
	}
}

// WithConfigStore sets the root configuration storage; each module receives the modules/<id> scope of it.
func WithConfigStore(config *kvstore.Config) ManagerOption {
	return func(m *Manager) {
		m.config = config
	}
}

// WithSystemModules declares modules that are loaded into every guild and can never be unloaded.
func WithSystemModules(ids ...string) ManagerOption {
	return func(m *Manager) {
		m.system = append([]string(nil), ids...)
	}
}

// WithMessenger sets the Messenger handed to modules.
func WithMessenger(messenger Messenger) ManagerOption {
	return func(m *Manager) {
		m.messenger = messenger
	}
}

// WithShutdown sets the function modules call to stop the process.
func WithShutdown(shutdown func(code int)) ManagerOption {
	return func(m *Manager) {
		m.shutdown = shutdown
	}
}

// WithRegisterRetry configures how command registration is retried on rate limiting.
func WithRegisterRetry(newBackOff func() backoff.BackOff, maxTries uint) ManagerOption {
	return func(m *Manager) {
		m.newBackOff = newBackOff
		m.registerTries = maxTries
	}
}

type instance struct {
	id     string
	module Module
	schema *Schema
	usage  int
}

// Manager owns module instances and the per-guild load state.
//
// Load and Unload calls for the same module are serialized. The shared maps are guarded
// separately, so calls for different modules proceed concurrently.
type Manager struct {
	registry      *Registry
	dispatcher    *Dispatcher
	registrar     CommandRegistrar
	state         StateStore
	config        *kvstore.Config
	messenger     Messenger
	shutdown      func(code int)
	system        []string
	newBackOff    func() backoff.BackOff
	registerTries uint

	locks sync.Map

	mu        sync.RWMutex
	instances map[string]*instance
	guilds    map[string]map[string]string // guild ID -> module ID -> registered command ID
	restoring bool
	dirty     bool
	pending   map[string]struct{} // guilds joined before restore completed

	restored  atomic.Bool
	persistMu sync.Mutex
}

var _ Controller = (*Manager)(nil)

// NewManager creates a Manager that resolves modules from registry and binds their commands to dispatcher.
func NewManager(registry *Registry, dispatcher *Dispatcher, options ...ManagerOption) *Manager {
	m := &Manager{
		registry:   registry,
		dispatcher: dispatcher,
		config:     kvstore.NewConfig(kvstore.NewMemoryStore()),
		shutdown: func(code int) {
			logger.Warnf("Shutdown with code %d requested, but no shutdown handler is set.", code)
		},
		newBackOff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff()
		},
		registerTries: 5,
		instances:     map[string]*instance{},
		guilds:        map[string]map[string]string{},
		pending:       map[string]struct{}{},
	}

	for _, opt := range options {
		opt(m)
	}

	dispatcher.gate = m.IsLoaded

	return m
}

// Load loads moduleID into guildID.
//
// It returns ErrAlreadyLoaded or ErrNotFound (wrapped), a *LoadError when the module could not be
// constructed or its commands could not be registered, or a *DeclinedError when the module's
// TryLoad refused. State is only mutated on success.
func (m *Manager) Load(ctx context.Context, guildID, moduleID string) error {
	lock := m.moduleLock(moduleID)
	lock.Lock()
	defer lock.Unlock()

	if m.IsLoaded(guildID, moduleID) {
		return fmt.Errorf("%w: %s in guild %s", ErrAlreadyLoaded, moduleID, guildID)
	}

	desc, ok := m.registry.Resolve(moduleID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, moduleID)
	}

	inst, created, err := m.obtain(desc)
	if err != nil {
		return &LoadError{Module: moduleID, Err: err}
	}

	if err := inst.module.TryLoad(ctx, guildID); err != nil {
		if created {
			m.destroy(inst)
		}
		return &DeclinedError{Module: moduleID, GuildID: guildID, Reason: err}
	}

	commandID, err := m.registerCommand(ctx, guildID, inst.schema)
	if err != nil {
		if created {
			m.destroy(inst)
		}
		return &LoadError{Module: moduleID, Err: err}
	}

	safely(moduleID, "OnLoad", func() {
		inst.module.OnLoad(ctx, guildID)
	})

	m.mu.Lock()
	inst.usage++
	set, ok := m.guilds[guildID]
	if !ok {
		set = map[string]string{}
		m.guilds[guildID] = set
	}
	set[moduleID] = commandID
	m.mu.Unlock()

	logger.Infof("Loaded module %s for guild %s.", moduleID, guildID)
	m.persist(ctx)

	return nil
}

// Unload removes moduleID from guildID.
//
// System modules always fail with ErrProtected. Otherwise it returns ErrNotLoaded (wrapped)
// or a *DeclinedError when the module's TryUnload refused.
func (m *Manager) Unload(ctx context.Context, guildID, moduleID string) error {
	if m.IsSystem(moduleID) {
		return fmt.Errorf("%w: %s", ErrProtected, moduleID)
	}

	lock := m.moduleLock(moduleID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.RLock()
	_, loaded := m.guilds[guildID][moduleID]
	inst := m.instances[moduleID]
	m.mu.RUnlock()

	if !loaded || inst == nil {
		return fmt.Errorf("%w: %s in guild %s", ErrNotLoaded, moduleID, guildID)
	}

	if err := inst.module.TryUnload(ctx, guildID); err != nil {
		return &DeclinedError{Module: moduleID, GuildID: guildID, Reason: err}
	}

	m.release(ctx, guildID, inst)
	logger.Infof("Unloaded module %s from guild %s.", moduleID, guildID)
	m.persist(ctx)

	return nil
}

// RestoreAll loads the system modules into every known guild, then reloads every module
// recorded in the persisted snapshot. Individual failures are logged and skipped.
// Persistence is deferred until the whole restore completes.
func (m *Manager) RestoreAll(ctx context.Context, knownGuilds []string) {
	m.mu.Lock()
	m.restoring = true
	m.mu.Unlock()

	var snapshot map[string][]string
	if m.state != nil {
		s, err := m.state.LoadState(ctx)
		if err != nil {
			logger.Errorf("CRITICAL: Failed to read loaded module state; starting without restored modules: %+v", err)
		} else {
			snapshot = s
		}
	}

	known := map[string]struct{}{}
	for _, guildID := range knownGuilds {
		known[guildID] = struct{}{}
	}
	for guildID := range snapshot {
		known[guildID] = struct{}{}
	}

	for _, guildID := range sortedKeys(known) {
		m.loadSystem(ctx, guildID)
	}

	for _, guildID := range sortedKeys(snapshot) {
		for _, moduleID := range snapshot[guildID] {
			if m.IsSystem(moduleID) {
				continue
			}
			err := m.Load(ctx, guildID, moduleID)
			if err != nil && !errors.Is(err, ErrAlreadyLoaded) {
				logger.Errorf("Failed to restore module %s for guild %s: %+v", moduleID, guildID, err)
			}
		}
	}

	m.mu.Lock()
	m.restoring = false
	dirty := m.dirty
	m.dirty = false
	late := m.pending
	m.pending = map[string]struct{}{}
	m.restored.Store(true)
	m.mu.Unlock()

	if dirty {
		m.persist(ctx)
	}

	// Guilds that were joined while restoring are not in knownGuilds.
	for _, guildID := range sortedKeys(late) {
		if _, ok := known[guildID]; ok {
			continue
		}
		m.loadSystem(ctx, guildID)
	}
}

// Restored reports whether RestoreAll has completed.
func (m *Manager) Restored() bool {
	return m.restored.Load()
}

// EnsureGuild loads the system modules into a guild the bot joined after startup.
// Until RestoreAll has completed, the guild is queued and handled at the end of the restore.
func (m *Manager) EnsureGuild(ctx context.Context, guildID string) {
	m.mu.Lock()
	if !m.restored.Load() {
		m.pending[guildID] = struct{}{}
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	m.loadSystem(ctx, guildID)
}

func (m *Manager) loadSystem(ctx context.Context, guildID string) {
	for _, moduleID := range m.system {
		err := m.Load(ctx, guildID, moduleID)
		if err != nil && !errors.Is(err, ErrAlreadyLoaded) {
			logger.Errorf("Failed to load system module %s for guild %s: %+v", moduleID, guildID, err)
		}
	}
}

// ForgetGuild releases every module of a guild the bot was removed from,
// system modules included. TryUnload is not consulted.
func (m *Manager) ForgetGuild(ctx context.Context, guildID string) {
	m.mu.Lock()
	delete(m.pending, guildID)
	m.mu.Unlock()

	for _, moduleID := range m.LoadedModules(guildID) {
		lock := m.moduleLock(moduleID)
		lock.Lock()

		m.mu.RLock()
		_, loaded := m.guilds[guildID][moduleID]
		inst := m.instances[moduleID]
		m.mu.RUnlock()

		if loaded && inst != nil {
			m.release(ctx, guildID, inst)
		}
		lock.Unlock()
	}

	logger.Infof("Released all modules of guild %s.", guildID)
	m.persist(ctx)
}

// Close destroys every live instance without touching the persisted load state.
func (m *Manager) Close() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.instances))
	for id := range m.instances {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		lock := m.moduleLock(id)
		lock.Lock()

		m.mu.RLock()
		inst := m.instances[id]
		m.mu.RUnlock()

		if inst != nil {
			m.destroy(inst)
		}
		lock.Unlock()
	}
}

// IsLoaded reports whether moduleID is loaded for guildID.
func (m *Manager) IsLoaded(guildID, moduleID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.guilds[guildID][moduleID]
	return ok
}

// LoadedModules returns the identifiers of the modules loaded for guildID, sorted.
func (m *Manager) LoadedModules(guildID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return sortedKeys(m.guilds[guildID])
}

// UsageCount returns how many guilds have moduleID loaded.
func (m *Manager) UsageCount(moduleID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inst, ok := m.instances[moduleID]
	if !ok {
		return 0
	}
	return inst.usage
}

// Live reports whether an instance of moduleID currently exists.
func (m *Manager) Live(moduleID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.instances[moduleID]
	return ok
}

// Snapshot returns a copy of the per-guild load state.
func (m *Manager) Snapshot() map[string][]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.snapshotLocked()
}

// Available returns the identifiers of every registered module.
func (m *Manager) Available() []string {
	descriptors := m.registry.ListAll()
	ids := make([]string, 0, len(descriptors))
	for _, d := range descriptors {
		ids = append(ids, d.ID)
	}
	return ids
}

// IsSystem reports whether moduleID is a system module.
func (m *Manager) IsSystem(moduleID string) bool {
	for _, id := range m.system {
		if id == moduleID {
			return true
		}
	}
	return false
}

// Dispatch routes a slash command invocation to the loaded module that owns it.
func (m *Manager) Dispatch(ctx context.Context, inv *Invocation) {
	m.dispatcher.Dispatch(ctx, inv)
}

func (m *Manager) moduleLock(moduleID string) *sync.Mutex {
	lock, _ := m.locks.LoadOrStore(moduleID, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// obtain returns the live instance of desc, constructing it when none exists.
// Must be called with the module lock held.
func (m *Manager) obtain(desc Descriptor) (*instance, bool, error) {
	m.mu.RLock()
	inst, ok := m.instances[desc.ID]
	m.mu.RUnlock()
	if ok {
		return inst, false, nil
	}

	mod, err := construct(desc, &Env{
		ID:        desc.ID,
		Config:    m.config.Sub("modules", desc.ID),
		Modules:   m,
		Messenger: m.messenger,
		Shutdown:  m.shutdown,
	})
	if err != nil {
		return nil, false, err
	}

	var (
		commands    []Command
		description string
	)
	if c, ok := mod.(Commander); ok {
		commands = c.Commands()
	}
	if d, ok := mod.(Describer); ok {
		description = d.Description()
	}

	schema, err := BuildSchema(desc.ID, description, commands)
	if err != nil {
		logger.Errorf("Module %s declares invalid commands: %+v", desc.ID, err)
		closeModule(desc.ID, mod)
		return nil, false, err
	}

	if err := m.dispatcher.Bind(schema); err != nil {
		closeModule(desc.ID, mod)
		return nil, false, err
	}

	inst = &instance{
		id:     desc.ID,
		module: mod,
		schema: schema,
	}

	m.mu.Lock()
	m.instances[desc.ID] = inst
	m.mu.Unlock()

	logger.Debugf("Created instance of module %s.", desc.ID)
	return inst, true, nil
}

// release removes inst from guildID and destroys it when no guild uses it anymore.
// Must be called with the module lock held.
func (m *Manager) release(ctx context.Context, guildID string, inst *instance) {
	safely(inst.id, "OnUnload", func() {
		inst.module.OnUnload(ctx, guildID)
	})

	m.mu.RLock()
	commandID := m.guilds[guildID][inst.id]
	m.mu.RUnlock()

	if commandID != "" && m.registrar != nil {
		if err := m.registrar.DeleteGuildCommand(guildID, commandID); err != nil {
			logger.Warnf("Failed to delete command of module %s from guild %s: %+v", inst.id, guildID, err)
		}
	}

	m.mu.Lock()
	if set, ok := m.guilds[guildID]; ok {
		delete(set, inst.id)
		if len(set) == 0 {
			delete(m.guilds, guildID)
		}
	}
	inst.usage--
	last := inst.usage <= 0
	m.mu.Unlock()

	if last {
		m.destroy(inst)
	}
}

// destroy drops inst from the store, unbinds its commands and closes it.
func (m *Manager) destroy(inst *instance) {
	m.mu.Lock()
	if m.instances[inst.id] == inst {
		delete(m.instances, inst.id)
	}
	m.mu.Unlock()

	m.dispatcher.Unbind(inst.schema)
	closeModule(inst.id, inst.module)
	logger.Debugf("Destroyed instance of module %s.", inst.id)
}

func (m *Manager) registerCommand(ctx context.Context, guildID string, schema *Schema) (string, error) {
	if schema.Command == nil || m.registrar == nil {
		return "", nil
	}

	operation := func() (string, error) {
		id, err := m.registrar.CreateGuildCommand(guildID, schema.Command)
		if err == nil {
			return id, nil
		}
		if rateLimited(err) {
			return "", err
		}
		return "", backoff.Permanent(err)
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(m.newBackOff()),
		backoff.WithMaxTries(m.registerTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warnf("Rate limited while registering %s for guild %s, retrying in %s: %+v", schema.Module, guildID, next, err)
		}),
	)
}

func (m *Manager) persist(ctx context.Context) {
	if m.state == nil {
		return
	}

	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	m.mu.Lock()
	if m.restoring {
		m.dirty = true
		m.mu.Unlock()
		return
	}
	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	if err := m.state.SaveState(ctx, snapshot); err != nil {
		logger.Errorf("CRITICAL: Failed to persist loaded module state: %+v", err)
	}
}

func (m *Manager) snapshotLocked() map[string][]string {
	snapshot := make(map[string][]string, len(m.guilds))
	for guildID, set := range m.guilds {
		snapshot[guildID] = sortedKeys(set)
	}
	return snapshot
}

func construct(desc Descriptor, env *Env) (mod Module, err error) {
	defer func() {
		if r := recover(); r != nil {
			mod, err = nil, fmt.Errorf("panic while constructing module %s: %v", desc.ID, r)
		}
	}()

	mod, err = desc.New(env)
	if err != nil {
		return nil, err
	}
	if mod == nil {
		return nil, fmt.Errorf("factory of module %s returned nil", desc.ID)
	}
	return mod, nil
}

func closeModule(moduleID string, mod Module) {
	closer, ok := mod.(io.Closer)
	if !ok {
		return
	}
	safely(moduleID, "Close", func() {
		if err := closer.Close(); err != nil {
			logger.Errorf("Failed to close module %s: %+v", moduleID, err)
		}
	})
}

func safely(moduleID, hook string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("Module %s panicked in %s: %v", moduleID, hook, r)
		}
	}()
	fn()
}

func rateLimited(err error) bool {
	var rateLimitErr *discordgo.RateLimitError
	if errors.As(err, &rateLimitErr) {
		return true
	}

	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		return restErr.Response.StatusCode == http.StatusTooManyRequests
	}

	return false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
