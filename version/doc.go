// Package version reports the build version of the module's binaries.
//
// Version, git commit and build time are set at compile time via -ldflags:
//
//	go build -ldflags "-X github.com/kbukum/sdkrtl/version.Version=1.0.0" ./cmd/sdkreq
package version
