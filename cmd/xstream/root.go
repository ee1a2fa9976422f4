package main

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/solarw/xstream/cmd"
	"github.com/solarw/xstream/pkg/xstreaminfo"
)

func rootMain(command *cobra.Command, arguments []string) error {
	if rootConfiguration.version {
		fmt.Println(xstreaminfo.Version)
		return nil
	}

	if rootConfiguration.bashCompletionScript != "" {
		if err := command.GenBashCompletionFile(rootConfiguration.bashCompletionScript); err != nil {
			return errors.Wrap(err, "unable to generate bash completion script")
		}
		return nil
	}

	return command.Help()
}

var rootCommand = &cobra.Command{
	Use:   "xstream",
	Short: "xstream opens paired, bidirectional byte streams between peers over a shared carrier connection",
	PersistentPreRun: func(command *cobra.Command, arguments []string) {
		if rootConfiguration.debug {
			xstreaminfo.DebugEnabled = true
		}
	},
	Run: cmd.Mainify(rootMain),
}

var rootConfiguration struct {
	// help indicates the presence of the -h/--help flag.
	help bool
	// version indicates the presence of the -V/--version flag.
	version bool
	// bashCompletionScript is the path at which to generate a bash
	// completion script, if any.
	bashCompletionScript string
	// configPath overrides the default configuration file location.
	configPath string
	// debug enables verbose debug logging for the duration of the process.
	debug bool
}

func init() {
	persistent := rootCommand.PersistentFlags()
	persistent.StringVar(&rootConfiguration.configPath, "config", "", "path to a YAML configuration file (default: $HOME/.xstream/config.yaml)")
	persistent.BoolVar(&rootConfiguration.debug, "debug", false, "enable verbose debug logging")

	flags := rootCommand.Flags()
	flags.BoolVarP(&rootConfiguration.help, "help", "h", false, "show help information")
	flags.BoolVarP(&rootConfiguration.version, "version", "V", false, "show version information")
	flags.StringVar(&rootConfiguration.bashCompletionScript, "generate-bash-completion", "", "generate bash completion script")
	flags.MarkHidden("generate-bash-completion")

	cobra.EnableCommandSorting = false
	cobra.MousetrapHelpText = ""

	rootCommand.AddCommand(
		dialCommand,
		listenCommand,
		configCommand,
	)
}
