// Package cli runs line oriented command loop:
// interactive prompt with completion on terminal, plain line reader otherwise.
package cli

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	prompt "github.com/c-bata/go-prompt"
	"github.com/juju/errors"
	"github.com/mattn/go-isatty"
)

type Options struct {
	Tag      string
	Exec     func(line string)
	Complete prompt.Completer
	// Stdin is read line by line when it is not a terminal. Default os.Stdin.
	Stdin *os.File
	// Interrupt is called once on SIGINT/SIGTERM/SIGHUP/SIGQUIT.
	Interrupt func(os.Signal)
	// KeepRunning waits for signal or ctx after piped input ends.
	KeepRunning bool
}

// MainLoop returns when input ends or ctx is done.
func MainLoop(ctx context.Context, opt Options) error {
	if opt.Stdin == nil {
		opt.Stdin = os.Stdin
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	interactive := isatty.IsTerminal(opt.Stdin.Fd()) || isatty.IsCygwinTerminal(opt.Stdin.Fd())
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(signalCh)
	go func() {
		select {
		case sig := <-signalCh:
			if opt.Interrupt != nil {
				opt.Interrupt(sig)
			}
			cancel()
			if interactive {
				// prompt.Run has no way to stop
				os.Exit(1)
			}
		case <-ctx.Done():
		}
	}()

	if interactive {
		complete := opt.Complete
		if complete == nil {
			complete = func(prompt.Document) []prompt.Suggest { return nil }
		}
		prompt.New(opt.Exec, complete,
			prompt.OptionTitle(opt.Tag),
			prompt.OptionPrefix(opt.Tag+"> "),
		).Run()
		return nil
	}
	if err := ReadLines(ctx, opt.Stdin, opt.Exec); err != nil {
		return err
	}
	if opt.KeepRunning {
		<-ctx.Done()
	}
	return nil
}

// ReadLines calls exec for every non-empty trimmed line.
func ReadLines(ctx context.Context, r io.Reader, exec func(line string)) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		exec(line)
	}
	return errors.Annotate(scanner.Err(), "read input")
}

// NewCompleter fuzzy matches word before cursor against suggests.
func NewCompleter(suggests []prompt.Suggest) prompt.Completer {
	return func(d prompt.Document) []prompt.Suggest {
		return Filter(suggests, d.GetWordBeforeCursor())
	}
}

func Filter(suggests []prompt.Suggest, word string) []prompt.Suggest {
	if word == "" {
		return nil
	}
	return prompt.FilterFuzzy(suggests, word, true)
}
