// Package version holds build-time version information for lizzy.
package version

// Version identifies the running lizzy release. It is embedded as the
// LizzyVersion tag on every stack created through the API and reported by
// the health endpoint. Set via ldflags during release builds.
var Version = "3.0.0-dev"
