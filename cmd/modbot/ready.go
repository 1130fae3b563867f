package main

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/oklahomer/go-kasumi/logger"
)

const readyAttempts = 5

var errNotReady = errors.New("gateway connection is not ready")

type readiness interface {
	Ready() bool
}

// waitReady polls r up to readyAttempts times, spread evenly over timeout.
func waitReady(ctx context.Context, r readiness, timeout time.Duration) error {
	interval := timeout / readyAttempts

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if !r.Ready() {
			return struct{}{}, errNotReady
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(interval)),
		backoff.WithMaxTries(readyAttempts),
		backoff.WithNotify(func(_ error, next time.Duration) {
			logger.Infof("Waiting %s for the Discord connection.", next)
		}),
	)
	return err
}
