package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/shaiso/composer/internal/compiler"
	"github.com/shaiso/composer/internal/config"
	"github.com/shaiso/composer/internal/telemetry"
)

// watchDebounce — пауза после последнего изменения файла перед перекомпиляцией.
const watchDebounce = 150 * time.Millisecond

// NewCompileCmd создаёт команду локальной компиляции.
//
// FSM (или {fsm, code} с --code) печатается в stdout как JSON.
// Диагностика возвращается как ошибка; с --code конверт
// {fsm: диагностика, code} дополнительно печатается в stdout.
func NewCompileCmd(configFn func() (*config.Config, error), outputFn func() *Output) *cobra.Command {
	var (
		includeSource bool
		timeout       time.Duration
		watch         bool
		verbose       bool
	)

	cmd := &cobra.Command{
		Use:   "compile FILE",
		Short: "Compile a composition script into an FSM",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFn()
			if err != nil {
				return err
			}
			out := outputFn()

			execTimeout := cfg.ExecTimeout()
			if cmd.Flags().Changed("timeout") {
				execTimeout = timeout
			}

			level := "ERROR"
			if verbose {
				level = "DEBUG"
			}

			c := compiler.New(compiler.Config{
				ExecTimeout:    execTimeout,
				LibraryAliases: cfg.Compiler.LibraryAliases,
				HideEnv:        !cfg.Compiler.InheritEnv,
				Logger:         telemetry.NewLogger(out.errW, config.LogConfig{Level: level, Format: "text"}),
			})

			path := args[0]
			opts := compiler.CompileOptions{IncludeSource: includeSource}
			ctx := cmd.Context()

			if !watch {
				return compileFile(ctx, c, out, path, opts)
			}

			recompile := func() {
				if err := compileFile(ctx, c, out, path, opts); err != nil {
					out.Error(err.Error())
				}
			}

			recompile()
			out.Success(fmt.Sprintf("Watching %s for changes (Ctrl+C to stop)", path))
			return watchFile(ctx, path, watchDebounce, recompile)
		},
	}

	cmd.Flags().BoolVar(&includeSource, "code", false, "Output {fsm, code} instead of the bare FSM")
	cmd.Flags().DurationVar(&timeout, "timeout", compiler.DefaultExecTimeout, "Time limit for a single sandbox attempt")
	cmd.Flags().BoolVar(&watch, "watch", false, "Recompile when the file changes")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log every strategy attempt to stderr")

	return cmd
}

// compileFile компилирует файл и печатает результат.
func compileFile(ctx context.Context, c *compiler.Compiler, out *Output, path string, opts compiler.CompileOptions) error {
	res, err := c.Compile(ctx, path, opts)
	if err != nil {
		var diag *compiler.Diagnostic
		if opts.IncludeSource && errors.As(err, &diag) {
			out.JSON(diag.Envelope())
		}
		return err
	}

	out.JSON(res)
	return nil
}

// watchFile вызывает fn после каждой серии изменений файла.
//
// Наблюдается директория: редакторы часто сохраняют файл через
// переименование временного, и наблюдение за самим файлом теряется.
func watchFile(ctx context.Context, path string, delay time.Duration, fn func()) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(delay)
			} else {
				timer.Reset(delay)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			fn()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watch %s: %w", path, err)
		}
	}
}
