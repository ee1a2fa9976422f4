// Package ssh implements a substrate.Transport that dials out over SSH and
// runs a remote command to serve as the carrier, for connecting to a peer
// on a remote host rather than over a plain TCP socket.
package ssh

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/pkg/errors"
	gossh "golang.org/x/crypto/ssh"

	"github.com/solarw/xstream/pkg/substrate"
)

var _ substrate.Transport = (*Transport)(nil)

// Transport dials an SSH server and execs RemoteCommand on it, wiring the
// resulting session's stdin/stdout together as the carrier's
// io.ReadWriteCloser. The remote command is expected to speak the same
// wire framing the local side does (i.e. it is an xstream endpoint, not an
// interactive shell).
type Transport struct {
	// ClientConfig carries the SSH authentication and host-key verification
	// policy; callers are responsible for populating it (this package takes
	// no position on credential sourcing, mirroring the transport-agnostic
	// stance the rest of the substrate package takes).
	ClientConfig *gossh.ClientConfig
	// RemoteCommand is the command execed on the remote session once
	// connected; its stdin/stdout become the carrier.
	RemoteCommand string
	// DialTimeout bounds the underlying TCP dial to the SSH server.
	DialTimeout time.Duration
}

// New constructs a Transport that will run remoteCommand on the remote host
// after authenticating with config.
func New(config *gossh.ClientConfig, remoteCommand string) *Transport {
	return &Transport{ClientConfig: config, RemoteCommand: remoteCommand, DialTimeout: 10 * time.Second}
}

// Dial implements substrate.Transport.
func (t *Transport) Dial(ctx context.Context, target string) (io.ReadWriteCloser, error) {
	dialer := net.Dialer{Timeout: t.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		return nil, errors.Wrap(err, "unable to dial ssh target")
	}

	clientConn, chans, reqs, err := gossh.NewClientConn(conn, target, t.ClientConfig)
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "unable to negotiate ssh connection")
	}
	client := gossh.NewClient(clientConn, chans, reqs)

	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, errors.Wrap(err, "unable to open ssh session")
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, errors.Wrap(err, "unable to open ssh session stdin")
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, errors.Wrap(err, "unable to open ssh session stdout")
	}

	if err := session.Start(t.RemoteCommand); err != nil {
		session.Close()
		client.Close()
		return nil, errors.Wrap(err, "unable to start remote command")
	}

	return &sessionCarrier{session: session, client: client, stdin: stdin, stdout: stdout}, nil
}

// sessionCarrier adapts an SSH session's stdin/stdout pipes plus its
// underlying client into a single io.ReadWriteCloser, so that closing the
// carrier tears down both the session and the SSH connection beneath it.
type sessionCarrier struct {
	session *gossh.Session
	client  *gossh.Client
	stdin   io.WriteCloser
	stdout  io.Reader
}

func (c *sessionCarrier) Read(p []byte) (int, error)  { return c.stdout.Read(p) }
func (c *sessionCarrier) Write(p []byte) (int, error) { return c.stdin.Write(p) }

func (c *sessionCarrier) Close() error {
	stdinErr := c.stdin.Close()
	sessionErr := c.session.Close()
	clientErr := c.client.Close()
	if stdinErr != nil {
		return stdinErr
	}
	if sessionErr != nil && sessionErr != io.EOF {
		return sessionErr
	}
	return clientErr
}
