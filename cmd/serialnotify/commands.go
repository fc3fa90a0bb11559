package main

import (
	"context"
	"time"

	"serialnotify/internal/app"
)

const stopTimeout = 45 * time.Second

// runRoles blocks until a signal arrives or a task fails fatally.
func runRoles(ctx context.Context, cfgPath string, roles ...app.Role) error {
	a, err := app.New(ctx, cfgPath, roles...)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background())
		return err
	}

	select {
	case <-ctx.Done():
		a.Logger().Info("signal received")
	case <-a.Done():
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	return a.Stop(stopCtx)
}

func importOnce(ctx context.Context, cfgPath string) error {
	a, err := app.New(ctx, cfgPath, app.RoleImport)
	if err != nil {
		return err
	}
	defer a.Stop(context.Background())

	_, err = a.ImportOnce(ctx)
	return err
}
