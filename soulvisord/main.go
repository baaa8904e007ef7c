// Copyright 2026 The Soulvisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"

	"github.com/soulvisor/soulvisor"
	"github.com/soulvisor/soulvisor/config"
	"github.com/soulvisor/soulvisor/logging"
	"github.com/soulvisor/soulvisor/rest"
)

const shutdownTimeout = 5 * time.Second

type options struct {
	configFile  string
	listen      string
	dir         string
	store       string
	noAutoStart bool
}

// override applies command line flags on top of the loaded configuration.
func (o *options) override(cfg *config.Config) error {
	if o.listen != "" {
		cfg.Server.Listen = o.listen
	}
	if o.dir != "" {
		cfg.Projects.Dir = o.dir
	}
	if o.store != "" {
		cfg.Projects.Store = o.store
	}
	return cfg.Validate()
}

func newRootCmd() *cobra.Command {
	o := &options{}
	cmd := &cobra.Command{
		Use:   "soulvisord",
		Short: "Supervise projects cloned from GitHub",
		Long: `soulvisord keeps a registry of projects, clones them from their GitHub
links, runs their commands, and serves a REST interface for soulctl.

Configuration comes from built in defaults, then the file named by
--config, then SOULVISOR_* environment variables (for example
SOULVISOR_SERVER_LISTEN), then the flags below.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(o.configFile)
			if err != nil {
				return err
			}
			if err := o.override(cfg); err != nil {
				return err
			}
			logger, err := logging.New(cfg.Log, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer logger.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(),
				syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
			defer stop()
			return serve(ctx, cfg, logger.Logger, !o.noAutoStart, nil)
		},
	}
	cmd.Flags().StringVarP(&o.configFile, "config", "c", "", "configuration file (YAML)")
	cmd.Flags().StringVarP(&o.listen, "listen", "a", "", "listen address")
	cmd.Flags().StringVarP(&o.dir, "dir", "d", "", "projects directory")
	cmd.Flags().StringVarP(&o.store, "store", "s", "", "project registry file")
	cmd.Flags().BoolVar(&o.noAutoStart, "no-autostart", false, "do not start autostart projects")
	return cmd
}

// newHost opens the registry and builds the supervisor around it.
func newHost(cfg *config.Config, logger *zap.Logger) (*soulvisor.Host, error) {
	if err := os.MkdirAll(cfg.Projects.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating projects directory: %w", err)
	}
	store, err := soulvisor.OpenStore(cfg.Projects.Store, logger)
	if err != nil {
		return nil, err
	}
	sup := soulvisor.NewSupervisor(soulvisor.SupervisorOptions{
		ProjectsDir: cfg.Projects.Dir,
		SelfName:    cfg.Supervisor.SelfName,
		StopTimeout: cfg.Supervisor.StopTimeout,
		Logger:      logger,
	})
	syncer := soulvisor.NewSynchronizer(cfg.Projects.Dir, soulvisor.GitCloner{}, logger)
	return soulvisor.NewHost(store, syncer, sup, logger), nil
}

// serve runs the daemon until ctx is done.  ready, if not nil, is told
// the address once the listener is open.
func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger,
	autoStart bool, ready func(net.Addr)) error {

	host, err := newHost(cfg, logger)
	if err != nil {
		return err
	}
	defer host.Close()

	if autoStart {
		started, err := host.Reconcile(ctx)
		if soulvisor.IsFatal(err) {
			return err
		}
		if err != nil {
			logger.Warn("some projects failed to start", zap.Error(err))
		}
		logger.Info("autostart complete", zap.Strings("started", started))
	}

	handler := rest.NewHandler(host, logger)
	if cfg.AuthEnabled() {
		if err := handler.SetAuth(cfg.Server.AuthUser, cfg.Server.AuthHash); err != nil {
			return err
		}
	}

	ln, err := net.Listen("tcp", cfg.Server.Listen)
	if err != nil {
		return err
	}
	if cfg.Server.MaxConns > 0 {
		ln = netutil.LimitListener(ln, cfg.Server.MaxConns)
	}
	// No write timeout: log and process watches hold requests open for
	// up to rest.MaxPollTime.
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          zap.NewStdLog(logger.Named("http")),
	}

	errs := make(chan error, 1)
	go func() {
		errs <- srv.Serve(ln)
	}()
	logger.Info("listening", zap.Stringer("addr", ln.Addr()))
	if ready != nil {
		ready(ln.Addr())
	}

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	srv.Close()
	return nil
}

func run(args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(stderr, "soulvisord: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}
