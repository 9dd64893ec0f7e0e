package cli

import (
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/aidanlsb/formsync/internal/buildinfo"
)

var readBuildInfo buildinfo.ReadFunc = debug.ReadBuildInfo

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show formsync version and build information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		info := buildinfo.Read(readBuildInfo)

		if isJSONOutput() {
			outputSuccess(info, nil)
			return nil
		}

		outf("formsync %s\n", info.Version)
		outf("module: %s\n", info.ModulePath)
		if info.Commit != "" {
			outf("commit: %s\n", info.Commit)
		}
		if info.CommitTime != "" {
			outf("commit_time: %s\n", info.CommitTime)
		}
		outf("go: %s\n", info.GoVersion)
		outf("platform: %s/%s\n", info.GOOS, info.GOARCH)
		outf("modified: %t\n", info.Modified)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
