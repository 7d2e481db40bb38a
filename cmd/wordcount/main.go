// Command wordcount runs the word-count job on a local stream runner
// cluster and optionally serves Prometheus metrics.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	streamrunner "github.com/Swind/go-stream-runner"
	"github.com/Swind/go-stream-runner/config"
	"github.com/Swind/go-stream-runner/core"
	obs "github.com/Swind/go-stream-runner/observability/prometheus"
	"github.com/pingcap/errors"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// options defines flags for the wordcount command.
type options struct {
	cfg            *config.Config
	configFilePath string
	job            jobOptions
	duration       time.Duration
}

func newOptions() *options {
	return &options{
		cfg: config.Default(),
		job: jobOptions{
			interval:  500 * time.Millisecond,
			splitters: 2,
			counters:  2,
			seed:      1,
		},
	}
}

func (o *options) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.configFilePath, "config", "", "Path of the configuration file")
	o.cfg.BindFlags(cmd.Flags())

	cmd.Flags().Int64Var(&o.job.sentences, "sentences", o.job.sentences, "sentences to emit, 0 for an endless stream")
	cmd.Flags().DurationVar(&o.job.interval, "sentence-interval", o.job.interval, "delay between two sentences")
	cmd.Flags().IntVar(&o.job.splitters, "splitters", o.job.splitters, "parallelism of the Splitter vertex")
	cmd.Flags().IntVar(&o.job.counters, "counters", o.job.counters, "parallelism of the WordCounter vertex")
	cmd.Flags().Uint64Var(&o.job.seed, "seed", o.job.seed, "seed of the sentence picker")
	cmd.Flags().DurationVar(&o.duration, "duration", 0, "stop the job after this long, 0 runs until interrupted")
}

// complete merges the config file and the command line flags.
func (o *options) complete(cmd *cobra.Command) error {
	return o.cfg.LoadWithFlags(o.configFilePath, cmd.Flags())
}

func (o *options) run(cmd *cobra.Command) error {
	logger, err := o.cfg.Log.Build()
	if err != nil {
		return errors.Trace(err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if o.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.duration)
		defer cancel()
	}

	graph, err := buildWordCountGraph(o.job, cmd.OutOrStdout())
	if err != nil {
		return errors.Trace(err)
	}
	if total := graph.TotalTasks(); o.cfg.TaskManager.Slots < total {
		logger.Info("Raising slot count to fit the job",
			core.F("slots", o.cfg.TaskManager.Slots),
			core.F("tasks", total))
		o.cfg.TaskManager.Slots = total
	}

	reg := prom.NewRegistry()
	var metrics core.Metrics = &core.NilMetrics{}
	if o.cfg.Metrics.Enabled {
		exporter, err := obs.NewMetricsExporter(o.cfg.Metrics.Namespace, reg, obs.ExporterOptions{})
		if err != nil {
			return errors.Trace(err)
		}
		metrics = exporter
	}

	cluster, err := streamrunner.NewLocalCluster(o.cfg,
		streamrunner.WithClusterLogger(logger),
		streamrunner.WithClusterMetrics(metrics))
	if err != nil {
		return errors.Trace(err)
	}

	g, gctx := errgroup.WithContext(ctx)
	cluster.Start(gctx)
	if err := cluster.SubmitJob(gctx, graph); err != nil {
		_ = cluster.Shutdown()
		return errors.Trace(err)
	}

	if o.cfg.Metrics.Enabled {
		if err := serveMetrics(gctx, g, o.cfg.Metrics, reg, cluster, logger); err != nil {
			_ = cluster.Shutdown()
			return err
		}
	}

	g.Go(func() error {
		<-gctx.Done()
		return cluster.Shutdown()
	})

	err = g.Wait()
	if latest, ok := cluster.LatestCheckpoint(); ok {
		logger.Info("Last completed checkpoint",
			core.F("checkpoint-id", latest.ID),
			core.F("tasks", len(latest.Snapshots)),
			core.F("duration", latest.Duration()))
	}
	if err != nil {
		logger.Error("Word count job failed", core.F("error", err))
		return err
	}
	logger.Info("Word count job exits successfully")
	return nil
}

// serveMetrics starts the snapshot poller and the /metrics endpoint. Both
// stop when ctx is done.
func serveMetrics(ctx context.Context, g *errgroup.Group, cfg config.MetricsConfig, reg *prom.Registry, cluster *streamrunner.LocalCluster, logger core.Logger) error {
	poller, err := obs.NewSnapshotPoller(cfg.Namespace, reg, cfg.PollInterval.Duration)
	if err != nil {
		return errors.Trace(err)
	}
	jm := cluster.JobManager()
	poller.AddTasks(jm.Graph().Name, jm)
	poller.AddCheckpoints(jm.Graph().Name, jm)
	poller.AddSlots(cluster.TaskManager().ID(), cluster.TaskManager())
	poller.Start(ctx)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: cfg.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g.Go(func() error {
		logger.Info("Serving metrics", core.F("addr", cfg.Addr))
		return serveResult(server.ListenAndServe())
	})
	g.Go(func() error {
		<-ctx.Done()
		poller.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		return errors.Trace(server.Shutdown(shutdownCtx))
	})
	return nil
}

// newCmdWordCount creates the wordcount command.
func newCmdWordCount() *cobra.Command {
	o := newOptions()

	command := &cobra.Command{
		Use:          "wordcount",
		Short:        "Run the word-count job on a local stream runner cluster",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.complete(cmd); err != nil {
				return err
			}
			return o.run(cmd)
		},
	}

	o.addFlags(command)
	return command
}

func main() {
	if err := newCmdWordCount().Execute(); err != nil {
		os.Exit(1)
	}
}

// serveResult treats the server being shut down as a clean exit.
func serveResult(err error) error {
	if err == nil || errors.Cause(err) == http.ErrServerClosed {
		return nil
	}
	return errors.Annotate(err, "metrics server")
}
