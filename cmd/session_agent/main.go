package main

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "session_agent",
	Short: "Fetch logged-in session data from the user's browser",
	Long: `session_agent reads the site's session cookies from a running Chromium over
CDP, calls the site's session endpoint with them and caches the result.
It serves the extension's load and clearCache messages over HTTP or over
the native-messaging protocol.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setupLogger writes to the rotating log file and to console. Native mode
// passes stderr as console since stdout carries framed messages.
func setupLogger(level, filename string, console io.Writer) error {
	if err := os.MkdirAll("logs", 0o755); err != nil {
		return err
	}

	logWriter := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}

	h := slog.NewTextHandler(io.MultiWriter(console, logWriter), &slog.HandlerOptions{Level: parseLevel(level)})
	slog.SetDefault(slog.New(h))
	return nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
