package commands

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/agentd/internal/config"
	"github.com/opencode-ai/agentd/internal/logging"
	"github.com/opencode-ai/agentd/internal/server"
)

var (
	servePort     int
	serveHostname string
	serveNoCORS   bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the agentd HTTP server",
	Long: `Start agentd as a server exposing the reply, confirmation, session and
configuration endpoints over HTTP.

Every request except /status must carry the X-Secret-Key header when a
secret key is configured (server.secretKey or AGENTD_SECRET_KEY).`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (default from config)")
	serveCmd.Flags().StringVar(&serveHostname, "hostname", "", "Hostname to listen on (default from config)")
	serveCmd.Flags().BoolVar(&serveNoCORS, "no-cors", false, "Disable CORS headers")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	logging.Info().Str("version", Version).Str("directory", a.workDir).Msg("starting agentd server")

	go func() {
		if err := a.telemetry.Run(ctx); err != nil {
			logging.Warn().Err(err).Msg("telemetry stopped")
		}
	}()

	if err := config.Watch(ctx, a.store, func() { a.reloadProvider(ctx) }); err != nil {
		logging.Warn().Err(err).Msg("config watch disabled")
	}

	serverConfig := server.DefaultConfig()
	serverConfig.Host = a.cfg.Server.Host
	serverConfig.Port = a.cfg.Server.Port
	serverConfig.SecretKey = a.cfg.Server.SecretKey
	if a.cfg.Server.CORS != nil {
		serverConfig.EnableCORS = *a.cfg.Server.CORS
	}
	if servePort != 0 {
		serverConfig.Port = servePort
	}
	if serveHostname != "" {
		serverConfig.Host = serveHostname
	}
	if serveNoCORS {
		serverConfig.EnableCORS = false
	}
	if serverConfig.SecretKey == "" {
		logging.Warn().Msg("no secret key configured; requests are not authenticated")
	}

	srv := server.New(serverConfig, server.Deps{
		Agent:      a.agent,
		Transport:  a.transport,
		Sessions:   a.sessions,
		Extensions: a.extensions,
		Config:     a.store,
		Providers:  a.providers,
		Bus:        a.bus,
	})

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", srv.Addr()).Msg("server listening")
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	logging.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Warn().Err(err).Msg("server shutdown error")
	}
	logging.Info().Msg("server stopped")
	return nil
}

// reloadProvider rebuilds the provider after the config store changed and
// swaps it in when the vendor or model differs.
func (a *app) reloadProvider(ctx context.Context) {
	next, err := a.buildProvider(ctx)
	if err != nil {
		logging.Warn().Err(err).Msg("provider not rebuilt after config change")
		return
	}
	if cur, err := a.agent.Provider(); err == nil &&
		cur.Metadata().Name == next.Metadata().Name &&
		cur.ModelConfig().Model == next.ModelConfig().Model {
		return
	}
	a.agent.UpdateProvider(next)
}
