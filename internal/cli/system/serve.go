package system

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/julianstephens/habitsync/internal/cli"
	"github.com/julianstephens/habitsync/internal/constants"
	"github.com/julianstephens/habitsync/internal/logger"
	"github.com/julianstephens/habitsync/internal/server"
)

// ServeCmd shares the configured backend with other devices over HTTP.
type ServeCmd struct {
	Addr    string `help:"Address to listen on." default:"127.0.0.1:8787" env:"HABITSYNC_ADDR"`
	Token   string `help:"Bearer token clients must send. Defaults to HABITSYNC_TOKEN or the keyring." env:"HABITSYNC_SERVER_TOKEN"`
	Metrics bool   `help:"Expose Prometheus metrics on /metrics." default:"true" negatable:""`
}

func (c *ServeCmd) Run(appCtx *cli.Context) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := c.build(ctx, appCtx)
	if err != nil {
		return err
	}
	appCtx.Printf("Serving %s on http://%s\n", appCtx.Target, c.addr())
	return srv.ListenAndServe(ctx, c.addr())
}

func (c *ServeCmd) addr() string {
	if strings.TrimSpace(c.Addr) == "" {
		return constants.ServerDefaultAddr
	}
	return c.Addr
}

func (c *ServeCmd) build(ctx context.Context, appCtx *cli.Context) (*server.Server, error) {
	loadCtx, cancel := appCtx.WithTimeout(ctx)
	err := appCtx.Load(loadCtx)
	cancel()
	if err != nil {
		return nil, err
	}

	token := strings.TrimSpace(c.Token)
	if token == "" {
		if token, err = cli.ResolveToken(); err != nil {
			return nil, err
		}
	}
	if token == "" {
		logger.Warn("serving without authentication, any client can read and write", "addr", c.addr())
	}

	opts := []server.Option{server.WithToken(token)}
	if c.Metrics {
		opts = append(opts, server.WithMetrics(server.NewMetricsProvider()))
	} else {
		opts = append(opts, server.WithMetrics(nil))
	}
	return server.New(appCtx.Client, opts...), nil
}
