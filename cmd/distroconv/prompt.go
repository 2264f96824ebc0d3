package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

var errNotInteractive = errors.New("stdin is not a terminal, pass --yes to convert unattended")

// confirmer returns the driver's Confirm hook. Nil means the operator
// already agreed with --yes.
func confirmer(assumeYes bool) func(ctx context.Context, question string) (bool, error) {
	if assumeYes {
		return nil
	}
	return func(ctx context.Context, question string) (bool, error) {
		if !isatty.IsTerminal(os.Stdin.Fd()) && !isatty.IsCygwinTerminal(os.Stdin.Fd()) {
			return false, errNotInteractive
		}
		return askYesNo(ctx, os.Stdin, os.Stdout, question)
	}
}

// askYesNo repeats the question until it reads y or n. It gives up when ctx
// ends, so an abort request is not stuck behind the prompt.
func askYesNo(ctx context.Context, in io.Reader, out io.Writer, question string) (bool, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	lines, done := scanLines(ctx, in)

	for {
		fmt.Fprintf(out, "%s [y/n]: ", stylePrompt.Render(question))
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return false, ctx.Err()
		case err := <-done:
			fmt.Fprintln(out)
			if err == nil {
				err = io.ErrUnexpectedEOF
			}
			return false, err
		case line := <-lines:
			switch strings.ToLower(strings.TrimSpace(line)) {
			case "y", "yes":
				return true, nil
			case "n", "no":
				return false, nil
			}
			fmt.Fprintln(out, styleDim.Render("Please answer y or n."))
		}
	}
}

// scanLines reads in on its own goroutine. The goroutine ends at EOF or at
// the first line read after ctx is done; a Read already blocked on a
// terminal cannot be interrupted and ends when the process exits. done
// receives exactly once.
func scanLines(ctx context.Context, in io.Reader) (<-chan string, <-chan error) {
	lines := make(chan string)
	done := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				done <- ctx.Err()
				return
			}
		}
		done <- sc.Err()
	}()
	return lines, done
}
