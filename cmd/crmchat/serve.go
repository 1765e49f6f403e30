package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Desarso/crmstream"
	"github.com/Desarso/crmstream/server"
)

// mockPrefix is where serve --mock mounts the canned backend.
const mockPrefix = "/mock"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the browser relay",
	Long: `Serves the chat relay API: streamed replies over SSE, conversation
history, a WebSocket feed and the parse endpoint. With --mock the relay talks
to a built-in backend that replays a canned structured reply.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringP("listen", "l", crmstream.DefaultListenAddr, "listen address")
	viper.BindPFlag("listen_addr", serveCmd.Flags().Lookup("listen"))

	serveCmd.Flags().String("retention-cron", "", "cron schedule (with seconds) of the retention job")
	viper.BindPFlag("retention.cron", serveCmd.Flags().Lookup("retention-cron"))

	serveCmd.Flags().Int("retention-days", crmstream.DefaultRetentionDays, "delete conversations idle this many days (0 keeps them)")
	viper.BindPFlag("retention.days", serveCmd.Flags().Lookup("retention-days"))

	serveCmd.Flags().Bool("mock", false, "serve a canned backend and relay to it")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	mock, _ := cmd.Flags().GetBool("mock")
	if mock {
		cfg.WithBackendURL(localURL(cfg.ListenAddr) + mockPrefix)
	}

	logger := commandLogger("[SERVE] ")
	if !viper.GetBool("verbose") {
		gin.SetMode(gin.ReleaseMode)
	}

	relay, err := crmstream.NewRelay(cfg, logger)
	if err != nil {
		return err
	}
	defer relay.Close()
	if err := relay.Start(); err != nil {
		return err
	}

	router := relay.Server.Router()
	if mock {
		server.NewMockBackend().Register(router.Group(mockPrefix))
	}

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: router}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, 1)
	go func() {
		errs <- srv.ListenAndServe()
	}()
	fmt.Fprintf(cmd.OutOrStdout(), "relay listening on %s (backend %s)\n", cfg.ListenAddr, cfg.BackendURL)

	select {
	case err := <-errs:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("relay stopped: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdown)
}

// localURL is the loopback URL of a listen address such as ":8080".
func localURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}
