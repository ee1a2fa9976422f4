package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"

	"github.com/solarw/xstream/pkg/xstream"
)

// pipeStdinToStream copies process standard input into stream until EOF,
// then signals the write half closed via WriteEOF.
func pipeStdinToStream(stream *xstream.Stream) {
	buffer := make([]byte, 32*1024)
	for {
		n, err := os.Stdin.Read(buffer)
		if n > 0 {
			if writeErr := stream.WriteAll(buffer[:n]); writeErr != nil {
				return
			}
		}
		if err != nil {
			stream.WriteEOF()
			return
		}
	}
}

// pipeStreamToStdout copies stream's main channel to process standard
// output until the stream closes. A peer-sent error (XStreamReadError) is
// returned to the caller; a plain transport close is treated as normal
// termination.
func pipeStreamToStdout(stream *xstream.Stream) error {
	for {
		data, err := stream.Read()
		if len(data) > 0 {
			os.Stdout.Write(data)
		}
		if err != nil {
			var onRead *xstream.ErrorOnRead
			if errors.As(err, &onRead) {
				var peerErr *xstream.XStreamReadError
				if errors.As(onRead.Cause, &peerErr) {
					return peerErr
				}
			}
			return nil
		}
	}
}

// echoStream reads from stream and writes every chunk straight back to its
// peer, used as the default handler for inbound streams under listen. It
// prints a human-readable byte count to standard error once the stream
// closes.
func echoStream(stream *xstream.Stream) {
	defer stream.Release()
	var total uint64
	for {
		data, err := stream.Read()
		if len(data) > 0 {
			total += uint64(len(data))
			if writeErr := stream.WriteAll(data); writeErr != nil {
				break
			}
		}
		if err != nil {
			break
		}
	}
	fmt.Fprintf(os.Stderr, "stream %s echoed %s\n", stream.ID(), humanize.Bytes(total))
}
