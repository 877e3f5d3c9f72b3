package version

import (
	"strings"

	"github.com/fatih/color"
)

// Version information for the tidal host.
// These variables can be overridden at build time via -ldflags.

var (
	majorColor = color.New(color.FgYellow, color.Bold)
	minorColor = color.New(color.FgGreen, color.Bold)
	patchColor = color.New(color.FgBlue, color.Bold)

	// Version is the semantic version of the host and guest runtime.
	Version = "0.1.0-dev"

	// GitCommit is an optional git commit hash.
	GitCommit = ""

	// GitMessage is an optional git commit message.
	GitMessage = ""

	// BuildDate is an optional build date in ISO-8601.
	BuildDate = ""
)

// ABI names the host import set this build speaks. Guests and hosts must
// agree on it.
const ABI = "env/1"

// Pretty renders v with coloured major, minor and patch numbers. Anything
// that is not a dotted triple is returned unchanged. Colour follows
// color.NoColor.
func Pretty(v string) string {
	core, suffix, _ := strings.Cut(v, "-")
	parts := strings.Split(core, ".")
	if len(parts) != 3 {
		return v
	}
	out := majorColor.Sprint(parts[0]) + "." + minorColor.Sprint(parts[1]) + "." + patchColor.Sprint(parts[2])
	if suffix != "" {
		out += "-" + suffix
	}
	return out
}
