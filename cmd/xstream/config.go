package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/solarw/xstream/cmd"
	"github.com/solarw/xstream/pkg/config"
)

func configMain(command *cobra.Command, arguments []string) error {
	path, err := configurationPath()
	if err != nil {
		return err
	}

	if configConfiguration.initialize {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return errors.Wrap(err, "unable to create configuration directory")
		}
		defaults := &config.YAMLConfiguration{
			PairMatchTimeout: 10 * time.Second,
			InboundApproval:  "auto",
			ReadChunkSize:    4096,
		}
		if err := config.Save(path, defaults); err != nil {
			return err
		}
		fmt.Println("wrote default configuration to", path)
		return nil
	}

	conf, existed, err := config.Load(path)
	if err != nil {
		return err
	}
	if !existed {
		fmt.Println("no configuration file at", path, "(using built-in defaults)")
		return nil
	}

	fmt.Printf("configuration file: %s\n", path)
	fmt.Printf("  pairMatchTimeout:  %s\n", conf.PairMatchTimeout)
	fmt.Printf("  inboundApproval:   %s\n", conf.InboundApproval)
	fmt.Printf("  readChunkSize:     %d\n", conf.ReadChunkSize)
	fmt.Printf("  ssh.user:          %s\n", conf.SSH.User)
	fmt.Printf("  ssh.remoteCommand: %s\n", conf.SSH.RemoteCommand)
	return nil
}

var configCommand = &cobra.Command{
	Use:   "config",
	Short: "Show or initialize the xstream configuration file",
	Args:  cmd.DisallowArguments,
	Run:   cmd.Mainify(configMain),
}

var configConfiguration struct {
	// initialize writes a fresh configuration file with built-in defaults.
	initialize bool
}

func init() {
	flags := configCommand.Flags()
	flags.BoolVar(&configConfiguration.initialize, "init", false, "write a default configuration file")
}
