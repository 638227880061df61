// Package version carries build metadata injected with -ldflags.
package version

// Version is the released courier version.
var Version = "0.0.0"

// GitCommit is the commit the binary was built from.
var GitCommit = "unknown"

// BuildDate is the UTC build timestamp.
var BuildDate = "unknown"
