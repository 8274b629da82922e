// Package cmd provides shared initialization for the journey binaries.
package cmd

import (
	"context"
	"log/slog"

	"github.com/journeyhq/journey/pkg/actions/addtag"
	logaction "github.com/journeyhq/journey/pkg/actions/log"
	"github.com/journeyhq/journey/pkg/actions/transform"
	"github.com/journeyhq/journey/pkg/actions/updatefield"
	"github.com/journeyhq/journey/pkg/actions/webhook"
	"github.com/journeyhq/journey/pkg/protocol"
	"github.com/journeyhq/journey/pkg/registry"
)

func registerActionPlugins(ctx context.Context, reg *registry.Registry, pluginsPath string) {
	plugins, err := reg.LoadActionPlugins(ctx, pluginsPath)
	if err != nil {
		panic(err)
	}

	for _, plugin := range plugins {
		reg.RegisterAction(plugin)
	}
}

func registerNativeActions(reg *registry.Registry, store protocol.RecordStore) {
	reg.RegisterAction(logaction.NewActionFactory())
	reg.RegisterAction(webhook.NewActionFactory())
	reg.RegisterAction(transform.NewActionFactory())
	reg.RegisterAction(updatefield.NewActionFactory(store))
	reg.RegisterAction(addtag.NewActionFactory(store))
}

// NewRegistry builds the action registry every binary shares: native actions
// plus whatever .so plugins live under pluginsPath.
func NewRegistry(ctx context.Context, log *slog.Logger, store protocol.RecordStore, pluginsPath string) *registry.Registry {
	reg := registry.NewRegistry(log)

	if pluginsPath != "" {
		registerActionPlugins(ctx, reg, pluginsPath)
	}

	registerNativeActions(reg, store)

	return reg
}
