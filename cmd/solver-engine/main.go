// Command solver-engine is a standalone reference implementation of the
// subprocess pkg/solver's ProcessEngine talks to over the sidecar protocol.
// It wraps ExactEngine so the sample binary is runnable without a real
// CP-SAT dependency; a production deployment would swap this process for
// one backed by OR-Tools or another real constraint solver, with the wire
// protocol unchanged.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/sudekirlar/fjsm-project/pkg/solver"
	"github.com/sudekirlar/fjsm-project/pkg/solver/sidecar"
)

const version = "1.0.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	encoder := sidecar.NewEncoder(os.Stdout)
	decoder := sidecar.NewDecoder(os.Stdin)
	engine := solver.NewExactEngine()

	if err := encoder.Encode(sidecar.MessageTypeReady, sidecar.ReadyMessage{Version: version, PID: os.Getpid()}); err != nil {
		return fmt.Errorf("sending READY: %w", err)
	}

	ctx := context.Background()
	for {
		msg, err := decoder.Decode()
		if err != nil {
			return err
		}
		if msg.Type != sidecar.MessageTypeSolve {
			continue
		}

		var solveMsg sidecar.SolveMessage
		if err := json.Unmarshal(msg.Data, &solveMsg); err != nil {
			return fmt.Errorf("unmarshal SOLVE envelope: %w", err)
		}

		var req solver.ModelRequest
		if err := json.Unmarshal(solveMsg.Request, &req); err != nil {
			return fmt.Errorf("unmarshal ModelRequest: %w", err)
		}

		resp, err := engine.Solve(ctx, req)
		if err != nil {
			_ = encoder.Encode(sidecar.MessageTypeError, sidecar.ErrorMessage{
				RequestID: solveMsg.RequestID,
				Message:   err.Error(),
			})
			continue
		}

		respBytes, err := json.Marshal(resp)
		if err != nil {
			return fmt.Errorf("marshal ModelResponse: %w", err)
		}
		if err := encoder.Encode(sidecar.MessageTypeResult, sidecar.ResultMessage{
			RequestID: solveMsg.RequestID,
			Response:  respBytes,
		}); err != nil {
			return fmt.Errorf("sending RESULT: %w", err)
		}
	}
}
