// Copyright 2026 The rtfMRI Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/rtfmri-foundation/rtfmri/session"
)

// newDecider picks how warnings are judged: accepted outright, asked
// of the operator on a terminal, or (with neither) left to abort the
// session.
func newDecider(accept bool, logger *slog.Logger) session.Decider {
	if accept {
		return session.DeciderFunc(func(_ context.Context, warning string) (bool, error) {
			logger.Warn("continuing past warning", "warning", warning)
			return true, nil
		})
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil
	}
	return &prompter{in: bufio.NewReader(os.Stdin), out: os.Stderr}
}

// prompter asks the operator on the terminal.
type prompter struct {
	in  *bufio.Reader
	out io.Writer
}

func (p *prompter) Continue(ctx context.Context, warning string) (bool, error) {
	fmt.Fprintf(p.out, "warning: %s\ncontinue? [y/N] ", warning)

	type answer struct {
		line string
		err  error
	}
	answers := make(chan answer, 1)
	go func() {
		line, err := p.in.ReadString('\n')
		answers <- answer{line, err}
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(p.out)
		return false, ctx.Err()
	case got := <-answers:
		if got.err != nil && got.err != io.EOF {
			return false, fmt.Errorf("reading answer: %w", got.err)
		}
		switch strings.ToLower(strings.TrimSpace(got.line)) {
		case "y", "yes":
			return true, nil
		}
		return false, nil
	}
}
