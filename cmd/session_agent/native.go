package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dgnsrekt/session_agent/internal/nativemsg"
)

var nativeCmd = &cobra.Command{
	Use:   "native [origin]",
	Short: "Run as a native-messaging host on stdin/stdout",
	Long: `Run as a native-messaging host. The browser starts the host with the
calling extension's origin as its first argument; it is logged and otherwise
ignored.`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		rt, err := newRuntime(ctx, os.Stderr)
		if err != nil {
			return err
		}
		defer rt.Close()

		origin := ""
		if len(args) > 0 {
			origin = args[0]
		}
		slog.Info("native host started", "origin", origin)

		return nativemsg.NewHost(rt.svc).Serve(ctx, os.Stdin, os.Stdout)
	},
}

func init() {
	rootCmd.AddCommand(nativeCmd)
}
