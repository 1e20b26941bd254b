package cli

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/azybler/sltm/pkg/api"
	"github.com/azybler/sltm/pkg/assignment"
	"github.com/azybler/sltm/pkg/metrics"
)

type serveOpts struct {
	inputOpts
	addr string
}

func newServeCmd(root *options) *cobra.Command {
	var o serveOpts
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run an assignment and serve its progress and results over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, root, o)
		},
	}
	addInputFlags(cmd, &o.inputOpts)
	cmd.Flags().StringVar(&o.addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func runServe(cmd *cobra.Command, root *options, o serveOpts) error {
	ctx := cmd.Context()
	cfg, logger, err := root.loadConfig(ctx)
	if err != nil {
		return err
	}
	net, demand, err := loadInputs(o.inputOpts, logger)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	store := api.NewStore()

	s := assignment.NewStrategy(net, demand, cfg.AssignmentOptions(), logger)
	s.OnIteration = func(ir assignment.IterationResult) {
		m.Observe(ir)
		store.Publish(s.Result(), api.SummarizePas(net, s.Manager()))
	}

	sc := api.ServerConfig{
		Addr:          cfg.Server.Addr,
		ReadTimeout:   cfg.Server.ReadTimeout,
		WriteTimeout:  cfg.Server.WriteTimeout,
		MaxConcurrent: cfg.Server.MaxConcurrent,
		CORSOrigin:    cfg.Server.CORSOrigin,
	}
	if o.addr != "" {
		sc.Addr = o.addr
	}
	srv := api.NewServer(sc, api.NewHandlers(net, store), reg, m, logger)

	var g errgroup.Group
	g.Go(func() error {
		store.SetState(api.StateRunning)
		res, err := s.Run(ctx)
		switch {
		case errors.Is(err, context.Canceled):
			store.SetState(api.StateStopped)
			return nil
		case err != nil:
			store.SetState(api.StateFailed)
			logger.Error("assignment failed", "err", err)
			return nil
		}
		store.Publish(res, api.SummarizePas(net, s.Manager()))
		if !res.Converged {
			store.SetState(api.StateStopped)
		}
		logger.Info("assignment finished, still serving", "iterations", res.Iterations, "converged", res.Converged)
		return nil
	})
	g.Go(func() error {
		return api.ListenAndServe(ctx, srv, logger)
	})
	return g.Wait()
}
