// Package common contains process-wide settings shared by the commands.
package common

// Version is set at build time with -ldflags "-X ...common.Version=...".
var Version = "dev"

const (
	// MetricsNamespace prefixes every exported metric.
	MetricsNamespace = "artifact_resolver"
)
