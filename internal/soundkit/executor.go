package soundkit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Executor runs a kit's player with a timeout.
type Executor struct {
	timeout time.Duration
}

// NewExecutor creates a new Executor with the specified timeout.
func NewExecutor(timeout time.Duration) *Executor {
	return &Executor{
		timeout: timeout,
	}
}

// Execute plays one sample. Argv players get {file} and {volume}
// substituted; executables receive the request as JSON on stdin and must
// answer with a Response on stdout.
func (e *Executor) Execute(ctx context.Context, kit *Kit, req *Request) error {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var cmd *exec.Cmd
	if kit.Executable != "" {
		cmd = exec.CommandContext(ctx, kit.Executable)
		reqJSON, err := json.Marshal(req)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		cmd.Stdin = bytes.NewReader(reqJSON)
	} else {
		argv := expand(kit.Manifest.Player, req)
		cmd = exec.CommandContext(ctx, argv[0], argv[1:]...)
	}
	cmd.Dir = kit.Path

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("player timeout after %v", e.timeout)
	}

	if err != nil {
		if s := strings.TrimSpace(stderr.String()); s != "" {
			return fmt.Errorf("player failed: %w, stderr: %s", err, s)
		}
		return fmt.Errorf("player failed: %w", err)
	}

	if kit.Executable == "" {
		return nil
	}

	var resp Response
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return fmt.Errorf("failed to parse player response: %w, stdout: %s", err, stdout.String())
	}
	if !resp.Success {
		return fmt.Errorf("player error: %s", resp.Error)
	}
	return nil
}

func expand(template []string, req *Request) []string {
	r := strings.NewReplacer(
		"{file}", req.File,
		"{volume}", strconv.FormatFloat(req.Volume, 'f', 2, 64),
		"{instrument}", req.Instrument,
	)
	out := make([]string, len(template))
	for i, arg := range template {
		out[i] = r.Replace(arg)
	}
	return out
}
