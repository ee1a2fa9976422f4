package main

import (
	"context"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/solarw/xstream/cmd"
	"github.com/solarw/xstream/pkg/behaviour"
	"github.com/solarw/xstream/pkg/substrate"
)

// stdioCarrier treats process standard input/output as a single
// io.ReadWriteCloser carrier, the shape a substrate.Listener hands back from
// Accept. It is the remote half of the ssh transport: the ssh transport
// execs this command over an SSH session and talks to it across the
// session's piped stdio.
type stdioCarrier struct{}

func (stdioCarrier) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdioCarrier) Write(p []byte) (int, error) { return os.Stdout.Write(p) }
func (stdioCarrier) Close() error                { return nil }

// singleCarrierListener hands back exactly one pre-established carrier from
// Accept, then blocks until Close is called.
type singleCarrierListener struct {
	carrier io.ReadWriteCloser
	taken   bool
	done    chan struct{}
}

func (l *singleCarrierListener) Accept() (io.ReadWriteCloser, error) {
	if !l.taken {
		l.taken = true
		return l.carrier, nil
	}
	<-l.done
	return nil, io.EOF
}

func (l *singleCarrierListener) Close() error {
	select {
	case <-l.done:
	default:
		close(l.done)
	}
	return nil
}

func listenStdioMain(command *cobra.Command, arguments []string) error {
	conf, err := loadConfiguration()
	if err != nil {
		return err
	}

	listener := &singleCarrierListener{carrier: stdioCarrier{}, done: make(chan struct{})}
	swarm := substrate.NewSwarm(make(chan substrate.Event, 64))
	swarm.Listen(listener)

	glue := behaviour.New(swarm, conf.XStreamConfiguration())
	glue.Run(context.Background())
	defer glue.Close()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, cmd.TerminationSignals...)

	runAcceptLoop(glue, signals)
	listener.Close()
	return nil
}

var listenStdioCommand = &cobra.Command{
	Use:    "listen-stdio",
	Short:  "Accept a single inbound connection over standard input/output (the ssh transport's remote command)",
	Hidden: true,
	Args:   cmd.DisallowArguments,
	Run:    cmd.Mainify(listenStdioMain),
}

func init() {
	rootCommand.AddCommand(listenStdioCommand)
}
