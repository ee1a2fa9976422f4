package behaviour

import "github.com/solarw/xstream/pkg/xstream"

// decisionTimeout-free: manual approval waits indefinitely for the caller to
// answer an IncomingStreamRequest; there is no default bound for
// human-in-the-loop approval. Callers that want a bound should apply their
// own context deadline around the request before answering.

// applyPolicy reports whether an inbound pair should be admitted without
// asking the caller. Under ManualApprove it also returns the request the
// caller must answer and the receive side of its decision channel.
func (g *Glue) applyPolicy(peerID xstream.PeerID, id xstream.ID) (approved bool, request *IncomingStreamRequest, decision chan bool) {
	switch g.config.InboundApprovalPolicy {
	case xstream.ManualApprove:
		decision = make(chan bool, 1)
		return false, &IncomingStreamRequest{PeerID: peerID, ID: id, Decision: decision}, decision
	case xstream.AutoApprove:
		fallthrough
	default:
		return true, nil, nil
	}
}
