// Package lifecycle holds shared stop reasons so the app, plugin manager
// and plugins agree on why something is shutting down.
package lifecycle

type StopReason string

const (
	StopSIGINT           StopReason = "sigint"
	StopSIGTERM          StopReason = "sigterm"
	StopFatalError       StopReason = "fatal_error"
	StopAppStop          StopReason = "app_stop"
	StopPluginDisable    StopReason = "plugin_disable"
	StopPluginQuarantine StopReason = "plugin_quarantine"
)
