package module

import (
	"fmt"
	"sync"

	"github.com/oklahomer/go-kasumi/logger"
	"github.com/robfig/cron/v3"
)

// Worker runs a module's periodic per-guild jobs.
// Modules own their Worker: schedule jobs in OnLoad, Cancel them in OnUnload and Stop the
// Worker when the instance is closed.
type Worker struct {
	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string][]cron.EntryID
	stopped bool
}

// NewWorker creates and starts a Worker.
func NewWorker() *Worker {
	c := cron.New(
		cron.WithLogger(cronLogger{}),
		cron.WithChain(cron.Recover(cronLogger{}), cron.SkipIfStillRunning(cronLogger{})),
	)
	c.Start()

	return &Worker{
		cron:    c,
		entries: map[string][]cron.EntryID{},
	}
}

// Schedule runs job for guildID on the given cron spec, e.g. "*/5 * * * *" or "@every 1m".
func (w *Worker) Schedule(guildID, spec string, job func()) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return fmt.Errorf("worker is stopped")
	}

	id, err := w.cron.AddFunc(spec, job)
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	w.entries[guildID] = append(w.entries[guildID], id)

	return nil
}

// Jobs returns how many jobs are scheduled for guildID.
func (w *Worker) Jobs(guildID string) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	return len(w.entries[guildID])
}

// Cancel removes every job of guildID. Runs already in progress finish on their own.
func (w *Worker) Cancel(guildID string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, id := range w.entries[guildID] {
		w.cron.Remove(id)
	}
	delete(w.entries, guildID)
}

// Stop removes every job and waits for running ones to complete.
func (w *Worker) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	w.entries = map[string][]cron.EntryID{}
	w.mu.Unlock()

	<-w.cron.Stop().Done()
}

// cronLogger forwards cron's logging to go-kasumi's logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logger.Debugf("cron: %s %v", msg, keysAndValues)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logger.Errorf("cron: %s %v: %+v", msg, keysAndValues, err)
}
