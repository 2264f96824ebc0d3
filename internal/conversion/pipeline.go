package conversion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"

	"github.com/lyndonlyu/distroconv/internal/config"
	"github.com/lyndonlyu/distroconv/internal/logging"
	"github.com/lyndonlyu/distroconv/internal/redact"
	"github.com/lyndonlyu/distroconv/internal/restorable"
	"github.com/lyndonlyu/distroconv/internal/rollback"
)

// Pipeline is the conversion proper. Everything it changes must be backed
// up through ctl first; an error makes the driver roll back.
type Pipeline interface {
	Run(ctx context.Context, ctl *rollback.Controller) error
}

type PipelineFunc func(ctx context.Context, ctl *rollback.Controller) error

func (f PipelineFunc) Run(ctx context.Context, ctl *rollback.Controller) error { return f(ctx, ctl) }

// CommandPipeline runs external commands in order. Before each command, the
// files it declares in Touches are backed up.
type CommandPipeline struct {
	Commands []config.Command
	// Path maps a declared path onto the host, e.g. config.Config.Path.
	Path func(string) string
	// Redactor masks argv and output before they are logged or returned.
	Redactor *redact.Redactor
	Log      *slog.Logger
}

func NewCommandPipeline(cfg *config.Config) (*CommandPipeline, error) {
	r, err := redact.New(cfg.Pipeline.Redact)
	if err != nil {
		return nil, fmt.Errorf("conversion: pipeline: %w", err)
	}
	return &CommandPipeline{Commands: cfg.Pipeline.Commands, Path: cfg.Path, Redactor: r, Log: logging.New("pipeline")}, nil
}

func (p *CommandPipeline) Run(ctx context.Context, ctl *rollback.Controller) error {
	log := p.Log
	if log == nil {
		log = logging.New("pipeline")
	}
	files := map[string]*restorable.File{}
	mask, maskArgs := func(s string) string { return s }, func(a []string) []string { return a }
	if p.Redactor != nil {
		mask, maskArgs = p.Redactor.Redact, p.Redactor.Args
	}

	for i, c := range p.Commands {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := c.Name
		if name == "" {
			name = fmt.Sprintf("step-%d", i+1)
		}
		if len(c.Argv) == 0 {
			return fmt.Errorf("conversion: step %s: empty argv", name)
		}

		for _, t := range c.Touches {
			path := t
			if p.Path != nil {
				path = p.Path(t)
			}
			f, ok := files[path]
			if !ok && slices.Contains(ctl.Identities(), filepath.Clean(path)) {
				// Preserved before the pipeline started.
				continue
			}
			if !ok {
				var err error
				if f, err = ctl.NewFile(path); err != nil {
					return fmt.Errorf("conversion: step %s: %w", name, err)
				}
				files[path] = f
			}
			if err := f.Backup(); err != nil {
				return fmt.Errorf("conversion: step %s: %w", name, err)
			}
		}

		log.Info("running step", "step", name, "argv", strings.Join(maskArgs(c.Argv), " "))
		cmd := exec.CommandContext(ctx, c.Argv[0], c.Argv[1:]...)
		out, err := cmd.CombinedOutput()
		if len(out) > 0 {
			log.Debug("step output", "step", name, "output", mask(strings.TrimSpace(string(out))))
		}
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("conversion: step %s interrupted: %w", name, ctx.Err())
			}
			var ee *exec.ExitError
			if errors.As(err, &ee) {
				return fmt.Errorf("conversion: step %s exited %d: %s", name, ee.ExitCode(), mask(lastLine(out)))
			}
			return fmt.Errorf("conversion: step %s: %w", name, err)
		}
		log.Info("step finished", "step", name)
	}
	return nil
}

func lastLine(out []byte) string {
	s := strings.TrimSpace(string(out))
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
