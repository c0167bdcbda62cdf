package index

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Confirmer asks the operator a yes/no question.
type Confirmer interface {
	Confirm(ctx context.Context, question string) (bool, error)
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, question string) (bool, error)

// Confirm implements Confirmer.
func (f ConfirmFunc) Confirm(ctx context.Context, question string) (bool, error) {
	return f(ctx, question)
}

// TerminalConfirmer prompts on Out and reads the answer from In. It refuses
// to prompt when In is not a terminal.
type TerminalConfirmer struct {
	// In is usually os.Stdin.
	In *os.File
	// Out is usually os.Stderr.
	Out io.Writer
}

// Confirm implements Confirmer. Only "y" and "yes" (any case) count as yes.
// The read is not interruptible by ctx.
func (t TerminalConfirmer) Confirm(_ context.Context, question string) (bool, error) {
	if t.In == nil || !term.IsTerminal(int(t.In.Fd())) {
		return false, ErrNonInteractive
	}
	return readAnswer(t.In, t.Out, question)
}

// readAnswer writes question to out and parses one line from in.
func readAnswer(in io.Reader, out io.Writer, question string) (bool, error) {
	if _, err := fmt.Fprintf(out, "%s (y/n): ", question); err != nil {
		return false, fmt.Errorf("index: write prompt: %w", err)
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return false, fmt.Errorf("index: read answer: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
