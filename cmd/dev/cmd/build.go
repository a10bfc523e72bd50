package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/gophertribe/devtool/build"
)

const (
	binary    = "dist/station"
	mainPkg   = "./cmd/station"
	goImage   = "gophertribe/gobuild:1.25-bookworm"
	versioned = "main"
)

// BuildCmd builds the station cli. Native builds run go build directly,
// anything else goes through the cross-compilation image.
func BuildCmd() *cobra.Command {
	var (
		version, goos, goarch string
		crossOS, crossArch    string
		noCache               bool
	)
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build the station cli",
		RunE: func(cmd *cobra.Command, args []string) error {
			if goos != runtime.GOOS || goarch != runtime.GOARCH {
				return build.Docker(cmd.Context(), fmt.Sprintf("./dev-%s-%s", goos, goarch),
					[]string{"build", "--version", version, "--cross-os", crossOS, "--cross-arch", crossArch},
					build.DockerBuildOpts{NoCache: noCache, Image: goImage})
			}
			if crossOS != "" && crossArch != "" {
				goos, goarch = crossOS, crossArch
			}
			// cgo is required by the hid bridge
			return build.GoBuild(binary, mainPkg, build.GoBuildOpts{
				Version:       version,
				InjectVersion: true,
				ConfigPackage: versioned,
				EnableCgo:     true,
				Arch:          goarch,
				OS:            goos,
			})
		},
	}
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "do not use cache when building in docker")
	cmd.Flags().StringVar(&version, "version", "latest", "version injected into the binary")
	cmd.Flags().StringVar(&goos, "os", runtime.GOOS, "os to build for")
	cmd.Flags().StringVar(&goarch, "arch", runtime.GOARCH, "arch to build for")
	cmd.Flags().StringVar(&crossOS, "cross-os", "", "os to cross-compile for")
	cmd.Flags().StringVar(&crossArch, "cross-arch", "", "arch to cross-compile for")
	return cmd
}
