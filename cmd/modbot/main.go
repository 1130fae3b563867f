// Command modbot runs a Discord bot whose features are modules loaded per guild.
//
// Configuration is read from the YAML file named by MODBOT_CONFIG, if any, and then
// overridden by environment variables:
//
//	export MODBOT_TOKEN="your-bot-token"    # or MODBOT_TOKEN_FILE=/run/secrets/token
//	export MODBOT_STORAGE=sqlite            # file (default), sqlite or redis
//	export MODBOT_STORAGE_DSN=modbot.db
//	go run ./cmd/modbot
//
// The process exits with 0 when a restart was requested through /bot-control restart,
// and with 1 on shutdown, on signals and on startup failures.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/oklahomer/go-kasumi/logger"
	"github.com/oklahomer/go-sarah/v4"

	discord "github.com/oklahomer/go-sarah-discord-modules"
	"github.com/oklahomer/go-sarah-discord-modules/kvstore"
	"github.com/oklahomer/go-sarah-discord-modules/module"
	"github.com/oklahomer/go-sarah-discord-modules/modules/botcontrol"
)

func main() {
	os.Exit(run())
}

func run() int {
	config, err := LoadConfig(os.Getenv("MODBOT_CONFIG"), nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %s\n", err)
		return botcontrol.ExitShutdown
	}

	store, err := kvstore.Open(config.Storage, config.StorageDSN)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open %s storage: %s\n", config.Storage, err)
		return botcontrol.ExitShutdown
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Errorf("Failed to close storage: %+v", err)
		}
	}()
	root := kvstore.NewConfig(store)

	adapterConfig := discord.NewConfig()
	adapterConfig.Token = config.Token
	adapterConfig.ApplicationID = config.ApplicationID
	adapterConfig.HelpCommand = config.HelpCommand
	adapterConfig.AbortCommand = config.AbortCommand

	adapter, err := discord.NewAdapter(adapterConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create adapter: %s\n", err)
		return botcontrol.ExitShutdown
	}

	registry, err := newRegistry()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to register modules: %s\n", err)
		return botcontrol.ExitShutdown
	}

	// Set up a context that cancels on SIGINT or SIGTERM, or when a module requests it.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var exitCode atomic.Int32
	exitCode.Store(botcontrol.ExitShutdown)
	shutdown := func(code int) {
		exitCode.Store(int32(code))
		cancel()
	}

	dispatcher := module.NewDispatcher(
		module.WithTimeout(config.CommandTimeout),
		module.WithPermissionFetcher(adapter),
	)
	manager := module.NewManager(registry, dispatcher,
		module.WithCommandRegistrar(adapter),
		module.WithStateStore(module.NewKVStateStore(root.Sub("core"))),
		module.WithConfigStore(root),
		module.WithSystemModules(systemModules...),
		module.WithMessenger(adapter),
		module.WithShutdown(shutdown),
	)
	defer manager.Close()
	adapter.SetRuntime(manager)

	// Text commands go through go-sarah as usual.
	storage := sarah.NewUserContextStorage(sarah.NewCacheConfig())
	bot := sarah.NewBot(adapter, sarah.BotWithStorage(storage))
	sarah.RegisterBot(bot)
	registerModulesCommand(manager)

	err = sarah.Run(ctx, sarah.NewConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to run: %s\n", err)
		return botcontrol.ExitShutdown
	}

	if err := waitReady(ctx, adapter, config.ReadyTimeout); err != nil {
		logger.Errorf("Discord connection did not become ready: %+v", err)
		return botcontrol.ExitShutdown
	}

	manager.RestoreAll(ctx, adapter.GuildIDs())
	logger.Infof("Bot is running with modules %v. Press Ctrl+C to stop.", manager.Available())

	<-ctx.Done()

	logger.Infof("Shutting down...")
	return int(exitCode.Load())
}
