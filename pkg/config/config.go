// Package config implements YAML-based configuration loading for the
// xstream CLI: one YAML document, loaded once at startup, defaults merged
// in.
package config

import (
	"os"
	"time"

	"github.com/solarw/xstream/pkg/encoding"
	"github.com/solarw/xstream/pkg/xstream"
)

// YAMLConfiguration is the on-disk configuration format for the xstream
// CLI's dial/listen commands.
type YAMLConfiguration struct {
	// PairMatchTimeout bounds how long a first-arrived substream waits for
	// its complementary half.
	PairMatchTimeout time.Duration `yaml:"pairMatchTimeout"`
	// InboundApproval is either "auto" or "manual".
	InboundApproval string `yaml:"inboundApproval"`
	// ReadChunkSize bounds the internal buffer size used by Stream.Read.
	ReadChunkSize int `yaml:"readChunkSize"`
	// SSH carries the optional SSH transport defaults.
	SSH struct {
		// RemoteCommand is the command execed on the remote host.
		RemoteCommand string `yaml:"remoteCommand"`
		// User is the SSH login user for every ssh dial (the target is a
		// plain host:port with no user part). If empty, $USER is used.
		User string `yaml:"user"`
	} `yaml:"ssh"`
}

// Load reads a YAML configuration file from path. A non-existent path is
// not an error; it is reported via the returned bool so callers can fall
// back to defaults.
func Load(path string) (*YAMLConfiguration, bool, error) {
	result := &YAMLConfiguration{}
	if err := encoding.LoadAndUnmarshalYAML(path, result); err != nil {
		if os.IsNotExist(err) {
			return result, false, nil
		}
		return nil, false, err
	}
	return result, true, nil
}

// Save writes conf as YAML to path.
func Save(path string, conf *YAMLConfiguration) error {
	return encoding.MarshalAndSaveYAML(path, conf)
}

// XStreamConfiguration converts the YAML form into an xstream.Configuration,
// starting from xstream.DefaultConfiguration and overriding only the fields
// the YAML document actually sets.
func (c *YAMLConfiguration) XStreamConfiguration() xstream.Configuration {
	result := xstream.DefaultConfiguration()
	if c == nil {
		return result
	}
	if c.PairMatchTimeout > 0 {
		result.PairMatchTimeout = c.PairMatchTimeout
	}
	if c.ReadChunkSize > 0 {
		result.ReadChunkSize = c.ReadChunkSize
	}
	switch c.InboundApproval {
	case "manual":
		result.InboundApprovalPolicy = xstream.ManualApprove
	case "auto", "":
		result.InboundApprovalPolicy = xstream.AutoApprove
	}
	return result.Normalized()
}
