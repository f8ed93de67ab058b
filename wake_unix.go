//go:build unix

package main

import (
	"context"
	"os"
	"os/signal"

	"golang.org/x/sys/unix"

	"example.com/serverdate/core/sync"
)

// notifyWake triggers a synchronization whenever the process receives
// SIGUSR1, e.g. from a resume hook after system suspend.
func notifyWake(ctx context.Context, sy *sync.Synchronizer) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, unix.SIGUSR1)
	go func() {
		defer signal.Stop(c)
		for {
			select {
			case <-ctx.Done():
				return
			case <-c:
				sy.Wake()
			}
		}
	}()
}
