package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// ErrNotSupported is returned for control operations the CLI transport
// cannot apply to an already-running invocation.
var ErrNotSupported = errors.New("not supported by cli agent")

const (
	// Large tool outputs arrive as single JSON lines.
	maxScanTokenSize  = 10 * 1024 * 1024
	initialScanBuffer = 64 * 1024

	interruptGraceTimeout = 10 * time.Second
)

type CLIOption func(*CLIClient)

// CLIClient runs the agent binary in stream-json mode, one process per
// turn.
type CLIClient struct {
	binary string
	logger *log.Logger
}

func NewCLIClient(binary string, logger *log.Logger, opts ...CLIOption) *CLIClient {
	client := &CLIClient{
		binary: strings.TrimSpace(binary),
		logger: logger,
	}
	if client.binary == "" {
		client.binary = "claude"
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client
}

var _ Client = (*CLIClient)(nil)

func (c *CLIClient) Query(ctx context.Context, req QueryRequest) (Handle, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, errors.New("prompt is required")
	}

	args := []string{"--print", "--output-format", "stream-json", "--verbose"}
	if req.AgentSessionID != "" {
		args = append(args, "--resume", req.AgentSessionID)
	}
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	if req.PermissionMode != "" {
		args = append(args, "--permission-mode", req.PermissionMode)
	}
	args = append(args, req.Prompt)

	cmd := exec.Command(c.binary, args...)
	if req.WorkDir != "" {
		cmd.Dir = req.WorkDir
	}
	cmd.Stdin = nil
	// Own process group so an interrupt reaches spawned tool subprocesses.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start agent process: %w", err)
	}

	h := &cliHandle{
		cmd:      cmd,
		logger:   c.logger,
		messages: make(chan Message, 128),
		done:     make(chan struct{}),
	}
	go h.readStream(ctx, stdout)
	return h, nil
}

type cliHandle struct {
	cmd      *exec.Cmd
	logger   *log.Logger
	messages chan Message
	done     chan struct{}

	mu  sync.Mutex
	err error
}

func (h *cliHandle) Messages() <-chan Message {
	return h.messages
}

func (h *cliHandle) Interrupt(ctx context.Context) error {
	if h.cmd.Process == nil {
		return nil
	}
	// SIGINT asks the agent to stop cleanly and flush what it has.
	if err := syscall.Kill(-h.cmd.Process.Pid, syscall.SIGINT); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("signal agent process: %w", err)
	}

	grace := time.NewTimer(interruptGraceTimeout)
	defer grace.Stop()
	select {
	case <-h.done:
		return nil
	case <-grace.C:
		_ = syscall.Kill(-h.cmd.Process.Pid, syscall.SIGKILL)
		<-h.done
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *cliHandle) SetModel(context.Context, string) error {
	return ErrNotSupported
}

func (h *cliHandle) SetPermissionMode(context.Context, string) error {
	return ErrNotSupported
}

func (h *cliHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *cliHandle) setErr(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err == nil {
		h.err = err
	}
}

func (h *cliHandle) readStream(ctx context.Context, stdout io.ReadCloser) {
	defer close(h.messages)
	defer close(h.done)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, initialScanBuffer), maxScanTokenSize)

	sawResult := false
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		msg, err := ParseMessage(line)
		if err != nil {
			if h.logger != nil {
				h.logger.Printf("agent stream parse error: %v", err)
			}
			continue
		}
		if msg.Type == MessageTypeResult {
			sawResult = true
		}

		select {
		case h.messages <- *msg:
		case <-ctx.Done():
			if h.cmd.Process != nil {
				_ = syscall.Kill(-h.cmd.Process.Pid, syscall.SIGKILL)
			}
			h.setErr(ctx.Err())
			_ = h.cmd.Wait()
			return
		}
	}

	if err := scanner.Err(); err != nil {
		h.setErr(fmt.Errorf("read agent output: %w", err))
		_ = h.cmd.Wait()
		return
	}

	if err := h.cmd.Wait(); err != nil && !sawResult {
		// A non-zero exit after a result is expected for tool-use errors;
		// without a result it means the process died mid-turn.
		h.setErr(fmt.Errorf("agent process: %w", err))
	}
}

// ParseMessage decodes one stream-json line into an agent Message.
func ParseMessage(data []byte) (*Message, error) {
	var base struct {
		Type      string          `json:"type"`
		Subtype   string          `json:"subtype,omitempty"`
		SessionID string          `json:"session_id"`
		Message   json.RawMessage `json:"message,omitempty"`
	}
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, err
	}

	raw := make(json.RawMessage, len(data))
	copy(raw, data)
	msg := &Message{SessionID: base.SessionID, Raw: raw}

	switch base.Type {
	case "system":
		if base.Subtype != "init" {
			// Other system notifications carry no turn content.
			return nil, fmt.Errorf("unhandled system subtype %q", base.Subtype)
		}
		msg.Type = MessageTypeInit
		msg.Init = &InitMessage{}
		if err := json.Unmarshal(data, msg.Init); err != nil {
			return nil, err
		}
	case "assistant":
		msg.Type = MessageTypeAssistant
		msg.Assistant = &AssistantMessage{}
		if err := json.Unmarshal(base.Message, msg.Assistant); err != nil {
			return nil, err
		}
	case "user":
		msg.Type = MessageTypeUser
		msg.User = &UserMessage{SessionID: base.SessionID}
		if err := json.Unmarshal(base.Message, &msg.User.Message); err != nil {
			return nil, err
		}
	case "result":
		msg.Type = MessageTypeResult
		msg.Result = &ResultMessage{}
		if err := json.Unmarshal(data, msg.Result); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown message type %q", base.Type)
	}
	return msg, nil
}
