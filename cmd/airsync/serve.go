package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"airsync/internal/httpapi"
	"airsync/internal/mcp"
	"airsync/internal/wsview"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

const shutdownTimeout = 5 * time.Second

func serveCmd() *cobra.Command {
	var withMCP bool
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve views over HTTP and websocket, optionally MCP over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(listen, withMCP)
		},
	}
	cmd.Flags().BoolVar(&withMCP, "mcp", false, "Also serve MCP tools over stdio")
	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address (overrides config)")
	return cmd
}

func runServe(listen string, withMCP bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := startApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())
	logger := a.Logger

	if listen == "" {
		listen = a.Config.HTTP.Listen
	}

	views := wsview.NewHandler(a.Store, a.Sync, logger, wsview.Options{})
	defer views.Close()

	srv := &http.Server{
		Addr: listen,
		Handler: httpapi.NewRouter(httpapi.Deps{
			Store:   a.Store,
			Sync:    a.Sync,
			Bridge:  a.Bridge,
			Metrics: a.Metrics,
			Views:   views,
			Logger:  logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http listening", zap.String("addr", listen))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if withMCP {
		server := mcp.NewServer(a.Schema, a.Store, a.Sync, a.Bridge, version, logger)
		defer server.Close()
		g.Go(func() error {
			err := server.Run(gctx, &sdk.StdioTransport{})
			// stdin closing ends the MCP session; take the HTTP server down with it
			stop()
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	return g.Wait()
}
