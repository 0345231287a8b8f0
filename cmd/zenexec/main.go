package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-hclog"
	"github.com/pbinitiative/zenexec/internal/config"
	"github.com/pbinitiative/zenexec/internal/log"
	"github.com/pbinitiative/zenexec/internal/otel"
	"github.com/pbinitiative/zenexec/internal/partition"
	"github.com/pbinitiative/zenexec/internal/profile"
	"github.com/pbinitiative/zenexec/internal/rest"
	"github.com/pbinitiative/zenexec/pkg/bpmn"
	"golang.org/x/sync/errgroup"
)

func main() {
	profile.InitProfile()
	log.Init()
	defer log.Sync()

	conf := config.InitConfig()
	hclog.SetDefault(profile.Current.RaftLogger(conf.Name))

	openTelemetry, err := otel.SetupOtel(conf.Tracing, conf.Partition.NodeId)
	if err != nil {
		log.Error("Failed to set up OTEL: %s", err)
		os.Exit(1)
	}

	appContext, ctxCancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer ctxCancel()

	if err := run(appContext, conf); err != nil {
		log.Error("Partition node stopped: %s", err)
		openTelemetry.Stop(context.Background())
		os.Exit(1)
	}
	openTelemetry.Stop(context.Background())
}

func run(ctx context.Context, conf config.Config) error {
	part, err := partition.New(conf.Partition,
		[]partition.Option{partition.WithTimerInterval(conf.Engine.TimerInterval)},
		bpmn.WithName(conf.Name),
		bpmn.WithPartitionId(conf.Engine.PartitionId),
		bpmn.WithMaxProcessDepth(conf.Engine.MaxProcessDepth),
		bpmn.WithIdempotencyCache(conf.Engine.IdempotencyCacheSize, conf.Engine.IdempotencyCacheTTL),
	)
	if err != nil {
		return err
	}
	if err := part.Open(); err != nil {
		return fmt.Errorf("failed to open partition: %w", err)
	}
	defer func() {
		if err := part.Close(); err != nil {
			log.Error("failed to properly close partition: %s", err)
		}
	}()
	if conf.Partition.Bootstrap {
		if err := part.Bootstrap(); err != nil {
			return err
		}
	}
	err = otel.ObservePartition(conf.Engine.PartitionId, conf.Partition.NodeId, func() (bool, int64, bool) {
		status := part.Status()
		return status.Leader, status.Position, status.Halted != ""
	})
	if err != nil {
		return fmt.Errorf("failed to register partition metrics: %w", err)
	}

	svr := rest.NewServer(part.Engine(), part, conf)
	if _, err := svr.Start(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return part.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Infof(ctx, "Shutting down node %s", conf.Partition.NodeId)
		svr.Stop(context.Background())
		return nil
	})
	return g.Wait()
}
