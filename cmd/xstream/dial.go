package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/solarw/xstream/cmd"
	"github.com/solarw/xstream/pkg/behaviour"
	"github.com/solarw/xstream/pkg/substrate"
)

func dialMain(command *cobra.Command, arguments []string) error {
	if len(arguments) != 1 {
		return errors.New("dial requires exactly one target argument")
	}
	target := arguments[0]

	conf, err := loadConfiguration()
	if err != nil {
		return err
	}

	transport, err := newTransport(dialConfiguration.transport, conf)
	if err != nil {
		return err
	}

	swarm := substrate.NewSwarm(make(chan substrate.Event, 64))
	glue := behaviour.New(swarm, conf.XStreamConfiguration())
	glue.Run(context.Background())
	defer glue.Close()

	go drainDialEvents(glue)

	ctx := context.Background()
	peerID, err := swarm.Dial(ctx, transport, target)
	if err != nil {
		return errors.Wrap(err, "unable to dial")
	}

	stream, err := glue.OpenStream(ctx, peerID)
	if err != nil {
		return errors.Wrap(err, "unable to open stream")
	}
	defer stream.Release()

	go pipeStdinToStream(stream)
	return pipeStreamToStdout(stream)
}

// drainDialEvents surfaces StreamError events as warnings; dial only ever
// opens one stream of its own, so it has no StreamEstablished/StreamClosed
// bookkeeping of its own to do.
func drainDialEvents(glue *behaviour.Glue) {
	for event := range glue.Events() {
		if e, ok := event.(*behaviour.StreamError); ok {
			cmd.Warning(fmt.Sprintf("stream error: %v", e.Err))
		}
	}
}

var dialCommand = &cobra.Command{
	Use:   "dial <target>",
	Short: "Open an outbound stream to a peer and pipe standard input/output through it",
	Args:  cobra.ExactArgs(1),
	Run:   cmd.Mainify(dialMain),
}

var dialConfiguration struct {
	// transport selects the carrier used to reach target ("tcp" or "ssh").
	transport string
}

func init() {
	flags := dialCommand.Flags()
	flags.StringVar(&dialConfiguration.transport, "transport", "tcp", "transport to use (tcp, ssh)")
}
