package metrics

import (
	"context"
	"fmt"
	"sort"

	"dsfetch/pkg/logger"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
)

// Telemetry owns the meter provider for one process. Metrics are kept in
// process and read back through a manual reader for the end of run summary.
type Telemetry struct {
	Provider *sdkmetric.MeterProvider
	Metrics  *Metrics

	reader *sdkmetric.ManualReader
}

// Init creates the meter provider, registers it globally and builds the instruments
func Init(serviceVersion string) (*Telemetry, error) {
	res := resource.NewSchemaless(
		attribute.String("service.name", "dsfetch"),
		attribute.String("service.version", serviceVersion),
	)

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)

	m, err := New(mp.Meter("dsfetch"))
	if err != nil {
		return nil, err
	}
	otel.SetMeterProvider(mp)

	return &Telemetry{Provider: mp, Metrics: m, reader: reader}, nil
}

// Snapshot returns the current total of every counter, and the sample
// count of every histogram, keyed by instrument name
func (t *Telemetry) Snapshot(ctx context.Context) (map[string]int64, error) {
	var rm metricdata.ResourceMetrics
	if err := t.reader.Collect(ctx, &rm); err != nil {
		return nil, fmt.Errorf("failed to collect metrics: %w", err)
	}

	totals := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					totals[m.Name] += dp.Value
				}
			case metricdata.Histogram[float64]:
				for _, dp := range data.DataPoints {
					totals[m.Name] += int64(dp.Count)
				}
			}
		}
	}
	return totals, nil
}

// LogSummary writes the current snapshot as one INFO line
func (t *Telemetry) LogSummary(ctx context.Context, log logger.Logger) {
	totals, err := t.Snapshot(ctx)
	if err != nil {
		log.WithError(err).Warn("Failed to collect run metrics")
		return
	}

	names := make([]string, 0, len(totals))
	for name := range totals {
		names = append(names, name)
	}
	sort.Strings(names)

	fields := make(map[string]interface{}, len(totals))
	for _, name := range names {
		fields[name] = totals[name]
	}
	log.InfoWithFields("Run metrics", fields)
}

// Shutdown flushes and stops the meter provider
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return t.Provider.Shutdown(ctx)
}
