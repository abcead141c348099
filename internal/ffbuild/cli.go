package ffbuild

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gookit/color"
	"github.com/spf13/cobra"
)

// usageError marks errors caused by how ffbuild was invoked.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

// RunFunc performs a build; force requests a refetch and full rebuild.
type RunFunc func(ctx context.Context, force bool) error

// NewRootCommand creates the ffbuild command. It accepts only
// --force-refresh and --help.
func NewRootCommand(run RunFunc) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "ffbuild",
		Short: "Build a universal static FFmpeg for macOS",
		Long: "ffbuild downloads and compiles FFmpeg's codec libraries for arm64 and x86_64,\n" +
			"builds FFmpeg against each set and merges ffmpeg and ffprobe into universal binaries.\n\n" +
			"Versions are taken from <LIB>_VERSION environment variables or ffbuild.toml.",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return usageError{fmt.Errorf("unexpected argument %q", args[0])}
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), force)
		},
	}
	cmd.CompletionOptions.DisableDefaultCmd = true
	cmd.Flags().BoolVarP(&force, "force-refresh", "f", false, "refetch every source archive and rebuild everything")
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err}
	})
	return cmd
}

// Main is the CLI entrypoint for cmd/ffbuild.
func Main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigs:
			colArrow.Print("\n-> ")
			color.Danger.Printf("Received %v. Stopping the build\n", sig)
			cancel()
			select {
			case <-sigs:
				colArrow.Print("\n-> ")
				color.Danger.Println("Second interrupt received. Forcing immediate exit.")
				os.Exit(130)
			case <-time.After(5 * time.Second):
				os.Exit(130)
			}
		case <-ctx.Done():
		}
	}()

	cmd := NewRootCommand(Run)
	cmd.SetArgs(os.Args[1:])
	if err := cmd.ExecuteContext(ctx); err != nil {
		printFailure(err)
		var ue usageError
		if errors.As(err, &ue) {
			fmt.Fprintln(os.Stderr, "Run 'ffbuild --help' for usage.")
		}
		os.Exit(1)
	}
}

// Run loads configuration, checks tools and runs the pipeline.
func Run(ctx context.Context, force bool) error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	Debug = cfg.Debug
	debugf("=> ffbuild %s (%s), host %s, %d jobs\n", version, buildDate, nativeArch(), cfg.Jobs)

	executor := NewExecutor(ctx)
	p, err := NewPipeline(ctx, cfg, executor, force)
	if err != nil {
		return err
	}
	order, err := p.Order()
	if err != nil {
		return err
	}
	if err := NewToolChecker(executor).Ensure(Requirements(order)); err != nil {
		return err
	}

	fmt.Println(planTable(order))
	for _, t := range p.Targets {
		kind := "native"
		if t.Cross() {
			kind = "cross"
		}
		cPrintf(colInfo, "   %-7s %s (%s)\n", t.Name, t.Prefix, kind)
	}
	if force {
		cPrintf(colNote, "Force refresh: refetching sources and rebuilding every library\n")
	}
	stepf("Logs for this run: %s", p.Builder.Logs.RunDir())

	runErr := p.Run(ctx)
	fmt.Println(p.Report.Summary())
	if runErr != nil {
		return runErr
	}
	stepf("Universal binaries are in %s", cfg.OutputDir)
	return nil
}

// printFailure writes the one-line diagnostic for a failed run.
func printFailure(err error) {
	fmt.Fprint(os.Stderr, colArrow.Sprint("-> "))
	fmt.Fprintln(os.Stderr, colError.Sprintf("%v", err))
}
