// Package handoff moves a request to the worker and its result back through
// two well-known files, using a newline on the worker's stdin as the
// "request ready" signal.
package handoff

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/mattjoyce/warmbridge/internal/protocol"
)

const (
	// DefaultInputPath is where the request document is written.
	DefaultInputPath = "/tmp/lambda_in"
	// DefaultOutputPath is where the worker leaves its result.
	DefaultOutputPath = "/tmp/lambda_out"

	// EnvInputPath and EnvOutputPath tell the worker where to find the files.
	EnvInputPath  = "WARMBRIDGE_HANDOFF_IN"
	EnvOutputPath = "WARMBRIDGE_HANDOFF_OUT"
)

// Channel is a pair of handoff file locations owned by one supervisor.
type Channel struct {
	InputPath  string
	OutputPath string
}

// New returns a Channel, substituting defaults for empty paths.
func New(inputPath, outputPath string) *Channel {
	if inputPath == "" {
		inputPath = DefaultInputPath
	}
	if outputPath == "" {
		outputPath = DefaultOutputPath
	}
	return &Channel{InputPath: inputPath, OutputPath: outputPath}
}

// Env returns the environment entries that point a worker at this channel.
func (c *Channel) Env() []string {
	return []string{
		EnvInputPath + "=" + c.InputPath,
		EnvOutputPath + "=" + c.OutputPath,
	}
}

// Clear removes any output artifact left by a previous invocation.
func (c *Channel) Clear() error {
	if err := os.Remove(c.OutputPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove stale output %s: %w", c.OutputPath, err)
	}
	return nil
}

// WriteRequest clears the output artifact and then writes req to the input
// path, replacing whatever was there.
func (c *Channel) WriteRequest(req *protocol.Request) error {
	if err := c.Clear(); err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := protocol.EncodeRequest(&buf, req); err != nil {
		return err
	}

	// Write to a sibling temp file and rename so the worker never sees a torn request.
	dir := filepath.Dir(c.InputPath)
	tmp, err := os.CreateTemp(dir, filepath.Base(c.InputPath)+".*")
	if err != nil {
		return fmt.Errorf("create request file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write request file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close request file: %w", err)
	}
	if err := os.Rename(tmpName, c.InputPath); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("install request file: %w", err)
	}
	return nil
}

// SignalReady writes the ready signal to the worker's stdin and flushes it.
func (c *Channel) SignalReady(w io.Writer) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(protocol.ReadySignal); err != nil {
		return fmt.Errorf("signal worker: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("signal worker: %w", err)
	}
	return nil
}

// ReadResult returns the output artifact's contents. ok is false when the
// worker wrote no artifact, which is different from an empty one.
func (c *Channel) ReadResult() (data string, ok bool, err error) {
	b, err := os.ReadFile(c.OutputPath)
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read output %s: %w", c.OutputPath, err)
	}
	return string(b), true, nil
}
