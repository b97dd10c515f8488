// Package version holds build-time version info injected via ldflags:
//
//	go build -ldflags "-X github.com/linguameet/linguameet/pkg/version.tag=v1.0.0
//	  -X github.com/linguameet/linguameet/pkg/version.commit=abc1234
//	  -X github.com/linguameet/linguameet/pkg/version.date=2026-01-01"
package version

// Populated by -ldflags "-X ...". Defaults are used for local dev builds.
var (
	tag    = ""        // git tag, empty if not on a tag
	commit = "unknown" // short git commit SHA
	date   = "unknown" // build date (ISO 8601)
)

// String returns a human-readable version string: the tag if present,
// else the commit, else "dev".
func String() string {
	if tag != "" {
		return tag
	}
	if commit != "unknown" {
		return commit
	}
	return "dev"
}

// Full returns "tag (commit) built date" or a sensible fallback.
func Full() string {
	if tag != "" {
		return tag + " (" + commit + ") built " + date
	}
	if commit != "unknown" {
		return commit + " built " + date
	}
	return "dev"
}
