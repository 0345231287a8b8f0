package otel

import (
	"context"
	"errors"
	"fmt"

	"github.com/pbinitiative/zenexec/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	metrics "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/trace"
)

var (
	RequestTotal     metrics.Int64Counter
	RequestUriTotal  metrics.Int64Counter
	RequestBodySize  metrics.Float64Counter
	ResponseBodySize metrics.Float64Counter
	RequestDuration  metrics.Float64Histogram

	requestMeter   string = "request-meter"
	partitionMeter string = "partition-meter"
)

type Otel struct {
	meterProvider  *metric.MeterProvider
	tracerprovider *trace.TracerProvider
}

// SetupOtel installs the global meter provider backing /system/metrics and,
// when tracing is enabled, the OTLP trace provider.
func SetupOtel(conf config.Tracing, nodeId string) (*Otel, error) {
	o := Otel{}
	var err error

	o.meterProvider, err = setupMeterProvider(conf.Name, nodeId)
	if err != nil {
		return nil, err
	}
	otel.SetMeterProvider(o.meterProvider)
	if conf.Enabled {
		o.tracerprovider, err = setupTraceProvider(conf, nodeId)
		if err != nil {
			return nil, fmt.Errorf("failed to set up tracer: %w", err)
		}
		otel.SetTracerProvider(o.tracerprovider)
	}

	return &o, nil
}

func (o *Otel) Stop(ctx context.Context) {
	if o.meterProvider != nil {
		_ = o.meterProvider.Shutdown(ctx)
		o.meterProvider = nil
	}
	if o.tracerprovider != nil {
		_ = o.tracerprovider.Shutdown(ctx)
		o.tracerprovider = nil
	}
}

func setupMeterProvider(appName string, nodeId string) (*metric.MeterProvider, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to set up prometheus exporter: %w", err)
	}

	res, err := serviceResource(appName, nodeId)
	if err != nil {
		return nil, err
	}

	meterProvider := metric.NewMeterProvider(
		metric.WithReader(exporter),
		metric.WithResource(res),
	)

	var errJoin error
	RequestTotal, err = otel.Meter(requestMeter).Int64Counter("request_total", metrics.WithDescription("Total requests to the server"))
	errJoin = errors.Join(errJoin, err)
	RequestUriTotal, err = otel.Meter(requestMeter).Int64Counter("request_uri_total", metrics.WithDescription("Total request per uri"))
	errJoin = errors.Join(errJoin, err)
	RequestBodySize, err = otel.Meter(requestMeter).Float64Counter("request_body_size", metrics.WithUnit("By"), metrics.WithDescription("Server received request body size, bytes"))
	errJoin = errors.Join(errJoin, err)
	ResponseBodySize, err = otel.Meter(requestMeter).Float64Counter("response_body_size", metrics.WithUnit("By"), metrics.WithDescription("Server send response body size, bytes"))
	errJoin = errors.Join(errJoin, err)
	RequestDuration, err = otel.Meter(requestMeter).Float64Histogram("request_duration", metrics.WithUnit("ms"), metrics.WithDescription("Time the server took to handle the request, milliseconds"))
	errJoin = errors.Join(errJoin, err)
	if errJoin != nil {
		return nil, fmt.Errorf("failed to create otel instruments: %w", errJoin)
	}
	return meterProvider, nil
}

// PartitionStatus is read on every collection of the partition gauges.
type PartitionStatus func() (leader bool, position int64, halted bool)

// ObservePartition publishes the leadership and log position of a partition.
func ObservePartition(partitionId uint32, nodeId string, status PartitionStatus) error {
	meter := otel.Meter(partitionMeter)
	leaderGauge, err := meter.Int64ObservableGauge("partition_leader", metrics.WithDescription("1 when the node leads the partition"))
	if err != nil {
		return err
	}
	positionGauge, err := meter.Int64ObservableGauge("partition_position", metrics.WithDescription("Position of the last record applied to the partition state"))
	if err != nil {
		return err
	}
	haltedGauge, err := meter.Int64ObservableGauge("partition_halted", metrics.WithDescription("1 when a processing error stopped the partition"))
	if err != nil {
		return err
	}
	attrs := metrics.WithAttributes(
		attribute.Int64("partition", int64(partitionId)),
		attribute.String("node", nodeId),
	)
	_, err = meter.RegisterCallback(func(_ context.Context, o metrics.Observer) error {
		leader, position, halted := status()
		o.ObserveInt64(leaderGauge, boolToInt(leader), attrs)
		o.ObserveInt64(positionGauge, position, attrs)
		o.ObserveInt64(haltedGauge, boolToInt(halted), attrs)
		return nil
	}, leaderGauge, positionGauge, haltedGauge)
	return err
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
