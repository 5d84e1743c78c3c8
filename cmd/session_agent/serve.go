package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dgnsrekt/session_agent/internal/api"
	"github.com/dgnsrekt/session_agent/internal/netutil"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the session API over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		rt, err := newRuntime(ctx, os.Stdout)
		if err != nil {
			return err
		}
		defer rt.Close()

		bindAddr, err := netutil.SelectBindAddr(rt.cfg.BindAddr, rt.cfg.PortCandidates, rt.cfg.PortAutoFallback)
		if err != nil {
			slog.Error("failed to select bind address", "preferred", rt.cfg.BindAddr, "error", err)
			return err
		}

		srv := &http.Server{
			Addr:              bindAddr,
			Handler:           api.NewServer(rt.svc, rt.cdp, rt.events),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			slog.Info("session_agent listening", "addr", bindAddr, "docs", "http://"+bindAddr+"/docs")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()

		select {
		case err := <-errCh:
			slog.Error("session_agent server failed", "error", err)
			return err
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("session_agent shutdown failed", "error", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
