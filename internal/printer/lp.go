package printer

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// LPBackend drives printers through the CUPS command line tools: lpstat
// for enumeration and lp for submission. It works on any host with a
// configured CUPS daemon and needs no cgo bindings.
type LPBackend struct {
	lpPath     string
	lpstatPath string
}

func NewLPBackend() *LPBackend {
	return &LPBackend{lpPath: "lp", lpstatPath: "lpstat"}
}

func (b *LPBackend) ListPrinters(ctx context.Context) ([]Info, error) {
	out, err := exec.CommandContext(ctx, b.lpstatPath, "-p").Output()
	if err != nil {
		return nil, fmt.Errorf("lpstat failed: %w", err)
	}

	defaultName := b.defaultPrinter(ctx)

	var printers []Info
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		// "printer NAME is idle.  enabled since ..."
		if !strings.HasPrefix(line, "printer ") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		name := fields[1]

		state := "unknown"
		switch {
		case strings.Contains(line, "is idle"):
			state = "idle"
		case strings.Contains(line, "now printing"):
			state = "printing"
		case strings.Contains(line, "disabled"):
			state = "stopped"
		}

		printers = append(printers, Info{
			Name:          name,
			State:         state,
			AcceptingJobs: state != "stopped",
			IsDefault:     name == defaultName,
		})
	}
	return printers, scanner.Err()
}

func (b *LPBackend) defaultPrinter(ctx context.Context) string {
	out, err := exec.CommandContext(ctx, b.lpstatPath, "-d").Output()
	if err != nil {
		return ""
	}
	// "system default destination: NAME"
	line := strings.TrimSpace(string(out))
	idx := strings.LastIndex(line, ": ")
	if idx < 0 {
		return ""
	}
	return strings.TrimSpace(line[idx+2:])
}

func (b *LPBackend) Print(ctx context.Context, req Request) error {
	if req.PrinterName == "" {
		return fmt.Errorf("printer name is required")
	}

	// lp reads from a file, not stdin, so CUPS can name the job after
	// the document.
	tmp, err := os.CreateTemp("", "print-*"+ContentSuffix(req.DocumentName))
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(req.Payload); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	copies := req.Copies
	if copies < 1 {
		copies = 1
	}

	args := []string{"-d", req.PrinterName, "-n", strconv.Itoa(copies)}
	if req.DocumentName != "" {
		args = append(args, "-t", req.DocumentName)
	}
	args = append(args, optionArgs(req.Options)...)
	args = append(args, tmp.Name())

	cmd := exec.CommandContext(ctx, b.lpPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return fmt.Errorf("lp failed: %s", msg)
		}
		return fmt.Errorf("lp failed: %w", err)
	}
	return nil
}
