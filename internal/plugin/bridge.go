package plugin

import (
	"restartbot/internal/config"
	"restartbot/internal/runtime/supervisor"
	"restartbot/internal/transport/router"
)

// Re-exports so plugins only import this package.

type Config = config.Config

type ConfigManager = config.ConfigManager

type PluginConfigRaw = config.PluginConfigRaw

type Supervisor = supervisor.Supervisor

var (
	NewSupervisor     = supervisor.NewSupervisor
	WithLogger        = supervisor.WithLogger
	WithCancelOnError = supervisor.WithCancelOnError
)

type Access = router.Access

const (
	AccessEveryone  = router.AccessEveryone
	AccessOwnerOnly = router.AccessOwnerOnly
)

type Command = router.Command

type Request = router.Request

type HandlerFunc = router.HandlerFunc
