// Package version reports the build version of the filesession binaries.
package version

import (
	"runtime/debug"
	"strings"
	"time"
)

const (
	defaultModule  = "pkt.systems/filesession"
	unknownVersion = "v0.0.0-unknown"
)

// buildVersion is injected with
// -ldflags "-X pkt.systems/filesession/internal/version.buildVersion=v1.2.3".
var buildVersion = ""

// Current returns the linker-injected version, the module version from build
// info, a pseudo-version derived from VCS stamps, or a placeholder.
func Current() string {
	if v := strings.TrimSpace(buildVersion); v != "" {
		return v
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return unknownVersion
	}
	if v := strings.TrimSpace(info.Main.Version); v != "" && v != "(devel)" {
		return v
	}
	if v := fromVCS(info.Settings); v != "" {
		return v
	}
	return unknownVersion
}

// Module returns the main module path.
func Module() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		if p := strings.TrimSpace(info.Main.Path); p != "" {
			return p
		}
	}
	return defaultModule
}

func fromVCS(settings []debug.BuildSetting) string {
	values := make(map[string]string, len(settings))
	for _, s := range settings {
		values[s.Key] = s.Value
	}
	rev, stamp := values["vcs.revision"], values["vcs.time"]
	if rev == "" || stamp == "" {
		return ""
	}
	when, err := time.Parse(time.RFC3339, stamp)
	if err != nil {
		return ""
	}
	if len(rev) > 12 {
		rev = rev[:12]
	}
	v := "v0.0.0-" + when.UTC().Format("20060102150405") + "-" + rev
	if values["vcs.modified"] == "true" {
		v += "+dirty"
	}
	return v
}
