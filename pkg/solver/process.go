package solver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sudekirlar/fjsm-project/pkg/solver/sidecar"
)

// ProcessEngine discharges models by dialing an external solver process over
// the sidecar protocol (newline-delimited JSON over stdio), mirroring
// exactly how the real CP-SAT engine would be wired in production: same
// request/response shapes ExactEngine uses, a subprocess transport instead
// of an in-process call.
type ProcessEngine struct {
	path string

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	encoder *sidecar.Encoder
	decoder *sidecar.Decoder
}

// NewProcessEngine constructs a ProcessEngine for the executable at path.
// The subprocess is launched by Start; Solve fails until Start has succeeded.
func NewProcessEngine(path string) *ProcessEngine {
	return &ProcessEngine{path: path}
}

// Start launches the subprocess and waits for its READY message.
func (p *ProcessEngine) Start(ctx context.Context, startupTimeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	cmd := exec.CommandContext(ctx, p.path)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("solver-engine stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("solver-engine stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting solver-engine subprocess: %w", err)
	}

	p.cmd = cmd
	p.stdin = stdin
	p.encoder = sidecar.NewEncoder(stdin)
	p.decoder = sidecar.NewDecoder(stdout)

	readyCh := make(chan error, 1)
	go func() {
		msg, err := p.decoder.Decode()
		if err != nil {
			readyCh <- err
			return
		}
		if msg.Type != sidecar.MessageTypeReady {
			readyCh <- fmt.Errorf("expected READY, got %s", msg.Type)
			return
		}
		readyCh <- nil
	}()

	select {
	case err := <-readyCh:
		return err
	case <-time.After(startupTimeout):
		return fmt.Errorf("timeout waiting for solver-engine READY")
	}
}

// Solve implements Engine by sending req as a SOLVE message and waiting for
// the matching RESULT or ERROR message.
func (p *ProcessEngine) Solve(ctx context.Context, req ModelRequest) (ModelResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.encoder == nil {
		return ModelResponse{}, fmt.Errorf("solver-engine process not started")
	}

	reqID := uuid.NewString()
	payload, err := json.Marshal(req)
	if err != nil {
		return ModelResponse{}, fmt.Errorf("marshal model request: %w", err)
	}

	if err := p.encoder.Encode(sidecar.MessageTypeSolve, sidecar.SolveMessage{RequestID: reqID, Request: payload}); err != nil {
		return ModelResponse{}, fmt.Errorf("sending SOLVE message: %w", err)
	}

	for {
		msg, err := p.decoder.Decode()
		if err != nil {
			return ModelResponse{}, fmt.Errorf("reading solver-engine response: %w", err)
		}

		switch msg.Type {
		case sidecar.MessageTypeResult:
			var result sidecar.ResultMessage
			if err := json.Unmarshal(msg.Data, &result); err != nil {
				return ModelResponse{}, fmt.Errorf("unmarshal RESULT envelope: %w", err)
			}
			if result.RequestID != reqID {
				continue
			}
			var resp ModelResponse
			if err := json.Unmarshal(result.Response, &resp); err != nil {
				return ModelResponse{}, fmt.Errorf("unmarshal ModelResponse: %w", err)
			}
			return resp, nil

		case sidecar.MessageTypeError:
			var errMsg sidecar.ErrorMessage
			if err := json.Unmarshal(msg.Data, &errMsg); err != nil {
				return ModelResponse{}, fmt.Errorf("unmarshal ERROR envelope: %w", err)
			}
			if errMsg.RequestID != reqID {
				continue
			}
			return ModelResponse{}, fmt.Errorf("solver-engine: %s", errMsg.Message)

		default:
			continue
		}
	}
}

// Close terminates the subprocess.
func (p *ProcessEngine) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stdin != nil {
		_ = p.stdin.Close()
	}
	if p.cmd == nil || p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Wait()
}
