// Package engine talks to the external document-recognition engine. The
// engine runs as a child process; frames and commands travel over stdin and
// results come back on a dedicated side-channel pipe (FD 3).
package engine

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/andresmejia3/idgate/internal/types"
	"github.com/andresmejia3/idgate/internal/utils"
)

// Engine is the recognition capability the capture core depends on.
type Engine interface {
	Init(ctx context.Context, licenseKey string) error
	Ready() bool
	ScanSide(ctx context.Context, jpeg []byte, side types.Side) (map[string]any, error)
	QuickCheckSide(ctx context.Context, jpeg []byte, side types.Side) (bool, error)
	Close() error
}

var (
	// ErrNotInitialized is returned by scan calls made before a successful Init.
	ErrNotInitialized = errors.New("recognition engine not initialized")
	// ErrEngine wraps error messages reported by the engine itself.
	ErrEngine = errors.New("engine error")
)

// Protocol opcodes. Request payload: [op][side][data...].
const (
	opInit  byte = 0
	opScan  byte = 1
	opCheck byte = 2
)

// Response status byte.
const (
	statusOK  byte = 0
	statusErr byte = 1
)

// ProcessEngine drives an engine child process.
type ProcessEngine struct {
	ID       int
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser

	callMu sync.Mutex // one exchange on the pipe at a time

	mu     sync.Mutex
	ready  bool
	broken error
}

// Start launches the engine command. command[0] is the executable.
func Start(id int, command []string) (*ProcessEngine, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("engine %d: empty command", id)
	}
	proc := utils.NewSafeCommand(command[0], command[1:]...)

	// Side-channel pipe (FD 3) keeps results separate from engine logging
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	proc.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := proc.StdinPipe()
	if err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := proc.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("engine %d failed to start: %w", id, err)
	}

	// Only the child holds the write end from here on
	w.Close()

	return &ProcessEngine{
		ID:       id,
		Cmd:      proc,
		Stdin:    stdin,
		DataPipe: r,
	}, nil
}

// Init loads the engine with a license key. Calling it again after success is a no-op.
func (e *ProcessEngine) Init(ctx context.Context, licenseKey string) error {
	if licenseKey == "" {
		return errors.New("engine license key is required")
	}
	e.mu.Lock()
	already := e.ready
	e.mu.Unlock()
	if already {
		return nil
	}

	if _, err := e.call(ctx, opInit, types.Front, []byte(licenseKey)); err != nil {
		return fmt.Errorf("engine init: %w", err)
	}
	e.mu.Lock()
	e.ready = true
	e.mu.Unlock()
	return nil
}

// Ready reports whether Init succeeded and the pipe is still healthy.
func (e *ProcessEngine) Ready() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ready && e.broken == nil
}

// Err returns why the engine became unusable, or nil while the pipe is healthy.
func (e *ProcessEngine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.broken
}

// ScanSide runs a full recognition pass for side and returns the engine's raw result.
func (e *ProcessEngine) ScanSide(ctx context.Context, jpeg []byte, side types.Side) (map[string]any, error) {
	if !e.Ready() {
		return nil, ErrNotInitialized
	}
	body, err := e.call(ctx, opScan, side, jpeg)
	if err != nil {
		return nil, err
	}
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("engine returned malformed result: %w", err)
	}
	return raw, nil
}

// QuickCheckSide asks the engine whether a single frame plausibly shows side.
func (e *ProcessEngine) QuickCheckSide(ctx context.Context, jpeg []byte, side types.Side) (bool, error) {
	if !e.Ready() {
		return false, ErrNotInitialized
	}
	body, err := e.call(ctx, opCheck, side, jpeg)
	if err != nil {
		return false, err
	}
	return len(body) > 0 && body[0] == 1, nil
}

// Close shuts the pipes and waits for the process to exit.
func (e *ProcessEngine) Close() error {
	e.mu.Lock()
	e.ready = false
	e.mu.Unlock()
	if e.Stdin != nil {
		e.Stdin.Close()
	}
	if e.DataPipe != nil {
		e.DataPipe.Close()
	}
	if e.Cmd != nil {
		return e.Cmd.Wait()
	}
	return nil
}

type callResult struct {
	body []byte
	err  error
}

// call serialises one request/response exchange. If ctx ends first the
// engine is marked broken, since the pipe is left mid-message.
func (e *ProcessEngine) call(ctx context.Context, op byte, side types.Side, data []byte) ([]byte, error) {
	e.mu.Lock()
	broken := e.broken
	e.mu.Unlock()
	if broken != nil {
		return nil, broken
	}

	done := make(chan callResult, 1)
	go func() {
		e.callMu.Lock()
		defer e.callMu.Unlock()
		body, err := e.communicate(op, side, data)
		done <- callResult{body, err}
	}()

	select {
	case res := <-done:
		return res.body, res.err
	case <-ctx.Done():
		e.markBroken(fmt.Errorf("engine %d abandoned mid-call: %w", e.ID, ctx.Err()))
		return nil, ctx.Err()
	}
}

// markBroken records err and closes the pipes so a blocked exchange returns.
func (e *ProcessEngine) markBroken(err error) {
	e.mu.Lock()
	if e.broken == nil {
		e.broken = err
	}
	e.mu.Unlock()
	if e.Stdin != nil {
		e.Stdin.Close()
	}
	if e.DataPipe != nil {
		e.DataPipe.Close()
	}
}

// communicate writes [len][op][side][data] and reads one framed response.
func (e *ProcessEngine) communicate(op byte, side types.Side, data []byte) ([]byte, error) {
	if err := binary.Write(e.Stdin, binary.BigEndian, uint32(len(data)+2)); err != nil {
		return nil, err
	}
	if _, err := e.Stdin.Write([]byte{op, byte(side)}); err != nil {
		return nil, err
	}
	if _, err := e.Stdin.Write(data); err != nil {
		return nil, err
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(e.DataPipe, header); err != nil {
		return nil, err // engine crashed before answering
	}
	respLen := binary.BigEndian.Uint32(header)
	resp := make([]byte, respLen)
	if _, err := io.ReadFull(e.DataPipe, resp); err != nil {
		return nil, err
	}
	return parseResponse(resp)
}

// parseResponse splits [status][body]. Error bodies are [msgLen][msg].
func parseResponse(resp []byte) ([]byte, error) {
	if len(resp) == 0 {
		return nil, errors.New("engine sent empty response")
	}
	switch resp[0] {
	case statusOK:
		return resp[1:], nil
	case statusErr:
		if len(resp) < 5 {
			return nil, fmt.Errorf("%w: (no message)", ErrEngine)
		}
		n := binary.BigEndian.Uint32(resp[1:5])
		if int(n) > len(resp)-5 {
			return nil, fmt.Errorf("%w: truncated message", ErrEngine)
		}
		return nil, fmt.Errorf("%w: %s", ErrEngine, resp[5:5+n])
	default:
		return nil, fmt.Errorf("engine sent unknown status %d", resp[0])
	}
}
