// Package version reports which build of autodeploy is running. The commit
// comes from -ldflags when set, otherwise from the VCS stamp in the build
// info, otherwise "dev".
package version

import "runtime/debug"

// AppName prefixes version strings and the client User-Agent.
const AppName = "autodeploy"

// gitCommitOverride is set with
// -ldflags "-X github.com/Littlefish319/autodeploy-agent-233/pkg/version.gitCommitOverride=<sha>"
// for builds without a .git directory.
var gitCommitOverride string

// GitCommit is the short commit hash, suffixed with "-dirty" for builds from
// a modified tree.
var GitCommit = resolveCommit(gitCommitOverride, readBuildInfo)

func readBuildInfo() (map[string]string, bool) {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return nil, false
	}
	settings := make(map[string]string, len(info.Settings))
	for _, s := range info.Settings {
		settings[s.Key] = s.Value
	}
	return settings, true
}

func resolveCommit(override string, buildInfo func() (map[string]string, bool)) string {
	if override != "" {
		return shortHash(override)
	}
	settings, ok := buildInfo()
	if !ok || settings["vcs.revision"] == "" {
		return "dev"
	}
	commit := shortHash(settings["vcs.revision"])
	if settings["vcs.modified"] == "true" {
		commit += "-dirty"
	}
	return commit
}

func shortHash(s string) string {
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

// Full returns "autodeploy/<commit>".
func Full() string {
	return AppName + "/" + GitCommit
}
