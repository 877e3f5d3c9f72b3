package main

import (
	"encoding/json"
	"fmt"
	"io"
	"runtime/debug"
	"strings"

	"github.com/spf13/cobra"

	"tidal/internal/host"
	"tidal/internal/version"
)

// wazeroModule is the engine whose resolved version is reported.
const wazeroModule = "github.com/tetratelabs/wazero"

// buildReport is what `tidal version` prints: the host build and the guest
// ABI it serves.
type buildReport struct {
	Tool      string   `json:"tool"`
	Version   string   `json:"version"`
	ABI       string   `json:"abi"`
	Go        string   `json:"go,omitempty"`
	Wazero    string   `json:"wazero,omitempty"`
	Commit    string   `json:"commit,omitempty"`
	Message   string   `json:"message,omitempty"`
	BuildDate string   `json:"build_date,omitempty"`
	Imports   []string `json:"imports,omitempty"`
	Exports   []string `json:"exports,omitempty"`
}

var (
	versionFormat string
	versionABI    bool
	versionBuild  bool
)

func init() {
	versionCmd.Flags().StringVar(&versionFormat, "format", "pretty", "output format (pretty|json)")
	versionCmd.Flags().BoolVar(&versionABI, "abi", false, "list the env imports the host provides and the exports it expects")
	versionCmd.Flags().BoolVar(&versionBuild, "build", false, "include commit, build date and toolchain versions")
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the host version and the guest ABI it speaks",
	RunE: func(cmd *cobra.Command, args []string) error {
		format := strings.ToLower(versionFormat)
		if format != "pretty" && format != "json" {
			return fmt.Errorf("unsupported format %q (must be pretty or json)", versionFormat)
		}
		report := collectBuildReport(versionABI, versionBuild)
		if format == "json" {
			return writeBuildJSON(cmd.OutOrStdout(), report)
		}
		writeBuildPretty(cmd.OutOrStdout(), report)
		return nil
	},
}

func collectBuildReport(withABI, withBuild bool) buildReport {
	r := buildReport{
		Tool:    "tidal",
		Version: orDefault(strings.TrimSpace(version.Version), "dev"),
		ABI:     version.ABI,
	}
	if withABI {
		r.Imports = host.Imports()
		r.Exports = host.Exports()
	}
	if withBuild {
		r.Commit = orDefault(strings.TrimSpace(version.GitCommit), "unknown")
		r.Message = strings.TrimSpace(version.GitMessage)
		r.BuildDate = orDefault(strings.TrimSpace(version.BuildDate), "unknown")
		if info, ok := debug.ReadBuildInfo(); ok {
			r.Go = info.GoVersion
			r.Wazero = moduleVersion(info, wazeroModule)
		}
	}
	return r
}

// moduleVersion finds path among the build's dependencies, following
// replace directives.
func moduleVersion(info *debug.BuildInfo, path string) string {
	for _, dep := range info.Deps {
		if dep.Path != path {
			continue
		}
		if dep.Replace != nil {
			return dep.Replace.Version
		}
		return dep.Version
	}
	return ""
}

func writeBuildPretty(out io.Writer, r buildReport) {
	fmt.Fprintf(out, "tidal %s, guest ABI %s\n", version.Pretty(r.Version), r.ABI)
	if r.Commit != "" {
		fmt.Fprintf(out, "commit:  %s\n", r.Commit)
		if r.Message != "" {
			fmt.Fprintf(out, "message: %s\n", r.Message)
		}
		fmt.Fprintf(out, "built:   %s\n", r.BuildDate)
	}
	if r.Go != "" {
		fmt.Fprintf(out, "go:      %s\n", r.Go)
	}
	if r.Wazero != "" {
		fmt.Fprintf(out, "wazero:  %s\n", r.Wazero)
	}
	if len(r.Imports) > 0 {
		fmt.Fprintln(out, "imports:")
		for _, imp := range r.Imports {
			fmt.Fprintf(out, "  %s\n", imp)
		}
		fmt.Fprintln(out, "exports:")
		for _, exp := range r.Exports {
			fmt.Fprintf(out, "  %s\n", exp)
		}
	}
}

func writeBuildJSON(out io.Writer, r buildReport) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
