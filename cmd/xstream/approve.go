package main

import (
	"fmt"
	"strings"
	"sync"

	"github.com/solarw/xstream/cmd"
	"github.com/solarw/xstream/pkg/behaviour"
	"github.com/solarw/xstream/pkg/prompting"
)

// approvalLock serializes concurrent approval prompts so that two inbound
// requests arriving close together don't interleave their stdin reads.
var approvalLock sync.Mutex

// handleApproval prompts on standard input for a yes/no decision on request
// and sends exactly one value on its Decision channel, as required by
// behaviour.IncomingStreamRequest.
func handleApproval(request *behaviour.IncomingStreamRequest) {
	approvalLock.Lock()
	defer approvalLock.Unlock()

	prompt := fmt.Sprintf("Accept stream %s from peer %s (yes/no)? ", request.ID, request.PeerID)
	response, err := prompting.PromptCommandLine(prompt)
	if err != nil {
		cmd.Warning(fmt.Sprintf("unable to read approval response: %v", err))
		request.Decision <- false
		return
	}
	request.Decision <- strings.EqualFold(strings.TrimSpace(response), "yes")
}
