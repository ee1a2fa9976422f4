package main

import (
	"net"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	gossh "golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"github.com/solarw/xstream/pkg/config"
	"github.com/solarw/xstream/pkg/substrate"
	"github.com/solarw/xstream/pkg/substrate/transports/ssh"
	"github.com/solarw/xstream/pkg/substrate/transports/tcp"
)

// configurationPath returns the effective configuration file path, honoring
// the --config override and otherwise defaulting to $HOME/.xstream/config.yaml.
func configurationPath() (string, error) {
	if rootConfiguration.configPath != "" {
		return rootConfiguration.configPath, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "unable to determine home directory")
	}
	return filepath.Join(home, ".xstream", "config.yaml"), nil
}

// loadConfiguration reads the effective configuration file, falling back to
// an empty (all-default) configuration if none is present.
func loadConfiguration() (*config.YAMLConfiguration, error) {
	path, err := configurationPath()
	if err != nil {
		return nil, err
	}
	conf, _, err := config.Load(path)
	if err != nil {
		return nil, errors.Wrap(err, "unable to load configuration")
	}
	return conf, nil
}

// newTransport constructs the substrate.Transport named by transportName,
// applying any relevant defaults from conf.
func newTransport(transportName string, conf *config.YAMLConfiguration) (substrate.Transport, error) {
	switch transportName {
	case "tcp":
		return tcp.New(), nil
	case "ssh":
		user := conf.SSH.User
		if user == "" {
			user = os.Getenv("USER")
		}
		clientConfig := &gossh.ClientConfig{
			User:            user,
			Auth:            []gossh.AuthMethod{gossh.PublicKeysCallback(sshAgentSigners)},
			HostKeyCallback: gossh.InsecureIgnoreHostKey(),
		}
		remoteCommand := conf.SSH.RemoteCommand
		if remoteCommand == "" {
			remoteCommand = "xstream listen-stdio"
		}
		return ssh.New(clientConfig, remoteCommand), nil
	default:
		return nil, errors.Errorf("unknown transport %q", transportName)
	}
}

// sshAgentSigners connects to the running SSH agent (via SSH_AUTH_SOCK) and
// returns its available signers, letting the ssh transport authenticate
// with whatever identities the user already has loaded.
func sshAgentSigners() ([]gossh.Signer, error) {
	socket := os.Getenv("SSH_AUTH_SOCK")
	if socket == "" {
		return nil, errors.New("no SSH agent available (SSH_AUTH_SOCK is unset)")
	}
	conn, err := net.Dial("unix", socket)
	if err != nil {
		return nil, errors.Wrap(err, "unable to connect to SSH agent")
	}
	return agent.NewClient(conn).Signers()
}
