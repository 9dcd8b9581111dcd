// Package build holds build-time metadata injected via ldflags.
package build

// Version is the daemon version, set at build time.
var Version = "dev"
