package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/lyndonlyu/distroconv/internal/config"
	"github.com/lyndonlyu/distroconv/internal/logging"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	flagConfig    string
	flagLogLevel  string
	flagLogFormat string

	cfg     *config.Config
	logFile *os.File
)

var rootCmd = &cobra.Command{
	Use:   "distroconv",
	Short: "Convert an installed distribution in place, with rollback",
	Long: "distroconv converts a running host to another distribution. Every file it\n" +
		"changes is backed up first, and any failure before the conversion commits\n" +
		"restores the host to how it was found.",
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logFile != nil {
			logFile.Close()
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("distroconv " + version)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flagConfig, "config", "c", config.DefaultPath, "Path to the configuration file")
	pf.StringVar(&flagLogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	pf.StringVar(&flagLogFormat, "log-format", "", "Log format (text, json)")
	rootCmd.AddCommand(versionCmd)
}

// setup loads the configuration and points logging at stderr and the log file.
func setup(cmd *cobra.Command, args []string) error {
	c, err := config.Load(flagConfig)
	if err != nil {
		return fmt.Errorf("load config %s: %w", flagConfig, err)
	}
	if flagLogLevel != "" {
		c.Log.Level = flagLogLevel
	}
	if flagLogFormat != "" {
		c.Log.Format = flagLogFormat
	}
	level, err := logging.ParseLevel(c.Log.Level)
	if err != nil {
		return err
	}

	writers := []io.Writer{os.Stderr}
	var fileErr error
	if c.Log.File != "" {
		if logFile, fileErr = logging.OpenFile(c.Log.File); fileErr == nil {
			writers = append(writers, logFile)
		}
	}
	logging.Init(level, c.Log.Format, writers...)
	if fileErr != nil {
		slog.Debug("logging to stderr only", "file", c.Log.File, "error", fileErr)
	}
	cfg = c
	return nil
}

// exitError carries a non-zero process status out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return 1
}

func main() {
	err := rootCmd.Execute()
	var ee *exitError
	if err != nil && !errors.As(err, &ee) {
		fmt.Fprintln(os.Stderr, styleError.Render("Error: ")+err.Error())
	}
	os.Exit(exitCode(err))
}
