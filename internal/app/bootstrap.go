package app

import (
	"restartbot/internal/config"
	"restartbot/internal/runtime/lifecycle"
)

// Aliases so cmd/ only needs internal/app.

type Config = config.Config

type StopReason = lifecycle.StopReason

const (
	StopSIGINT     = lifecycle.StopSIGINT
	StopSIGTERM    = lifecycle.StopSIGTERM
	StopFatalError = lifecycle.StopFatalError
	StopAppStop    = lifecycle.StopAppStop
)
