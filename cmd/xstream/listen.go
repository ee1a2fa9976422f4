package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/solarw/xstream/cmd"
	"github.com/solarw/xstream/pkg/behaviour"
	"github.com/solarw/xstream/pkg/substrate"
	"github.com/solarw/xstream/pkg/substrate/transports/tcp"
)

func listenMain(command *cobra.Command, arguments []string) error {
	if len(arguments) != 1 {
		return errors.New("listen requires exactly one address argument")
	}
	address := arguments[0]

	conf, err := loadConfiguration()
	if err != nil {
		return err
	}

	listener, err := tcp.Listen(address)
	if err != nil {
		return errors.Wrap(err, "unable to listen")
	}

	swarm := substrate.NewSwarm(make(chan substrate.Event, 64))
	swarm.Listen(listener)

	glue := behaviour.New(swarm, conf.XStreamConfiguration())
	glue.Run(context.Background())
	defer glue.Close()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, cmd.TerminationSignals...)

	fmt.Fprintf(os.Stderr, "listening on %s (inbound approval: %s)\n", address, conf.XStreamConfiguration().InboundApprovalPolicy)

	runAcceptLoop(glue, signals)
	listener.Close()
	glue.Close()
	return nil
}

// runAcceptLoop dispatches Glue events for an accepting side: inbound
// requests go through the configured approval policy, admitted streams are
// echoed back to their peer, and lifecycle events are logged to standard
// error. Standard output is reserved for stream payload (echoStream writes
// it back out over the wire, not to the console), which matters for
// listen-stdio where standard output doubles as the carrier. It returns once
// either glue.Events() closes or a termination signal arrives on stop.
func runAcceptLoop(glue *behaviour.Glue, stop <-chan os.Signal) {
	for {
		select {
		case <-stop:
			return
		case event, ok := <-glue.Events():
			if !ok {
				return
			}
			switch e := event.(type) {
			case *behaviour.IncomingStreamRequest:
				go handleApproval(e)
			case *behaviour.IncomingStreamEstablished:
				fmt.Fprintf(os.Stderr, "stream %s established from peer %s\n", e.Stream.ID(), e.Stream.PeerID())
				go echoStream(e.Stream)
			case *behaviour.StreamRejected:
				fmt.Fprintf(os.Stderr, "stream %s from peer %s rejected\n", e.ID, e.PeerID)
			case *behaviour.StreamError:
				cmd.Warning(fmt.Sprintf("stream error from peer %s: %v", e.PeerID, e.Err))
			case *behaviour.StreamClosed:
				fmt.Fprintf(os.Stderr, "stream %s closed (%s)\n", e.ID, e.Reason)
			}
		}
	}
}

var listenCommand = &cobra.Command{
	Use:   "listen <address>",
	Short: "Accept inbound connections and admit streams according to the configured approval policy",
	Args:  cobra.ExactArgs(1),
	Run:   cmd.Mainify(listenMain),
}
