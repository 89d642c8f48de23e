package commands

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/nanshuiyu/pytools/version"
)

type rootOptions struct {
	debug bool
}

func NewRootCmd(name string) *cobra.Command {
	var options rootOptions

	cmd := &cobra.Command{
		Use:           name,
		Short:         "Console front-end for the remote debugger backend",
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if options.debug {
				logrus.SetLevel(logrus.DebugLevel)
			}
		},
	}

	rootFlags(&options, cmd.PersistentFlags())

	cmd.AddCommand(serveCmd())
	return cmd
}

func rootFlags(options *rootOptions, flags *pflag.FlagSet) {
	flags.BoolVarP(&options.debug, "debug", "D", false, "enable debug logging")
}
