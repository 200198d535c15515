// Package watcher supervises the long-running worker roles. Each role is a
// polling loop behind a Run(ctx) method; the watcher starts them together
// and stops them all when one fails or the context is cancelled.
package watcher

import (
	"context"
	"errors"
	"log"

	"golang.org/x/sync/errgroup"
)

// Role is one supervised worker loop. Run blocks until the context is
// cancelled or the role fails.
type Role struct {
	Name string
	Run  func(ctx context.Context) error
}

type Watcher struct {
	roles []Role
}

func New(roles ...Role) *Watcher {
	return &Watcher{roles: roles}
}

// Start runs every role concurrently and blocks until all have stopped.
// A plain context cancellation is a clean shutdown, not an error.
func (w *Watcher) Start(ctx context.Context) error {
	log.Printf("Starting watcher with %d roles...", len(w.roles))

	g, ctx := errgroup.WithContext(ctx)
	for _, role := range w.roles {
		role := role
		g.Go(func() error {
			log.Printf("Role %s starting", role.Name)
			err := role.Run(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("Role %s stopped with error: %v", role.Name, err)
				return err
			}
			log.Printf("Role %s stopped", role.Name)
			return nil
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
