package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
)

var meter = otel.Meter("wispfetch.telemetry")

// SlogAPI implements API using the log/slog package, counts are additionally
// recorded as otel gauges so they reach the metric exporter when one is configured.
type SlogAPI struct {
	logger *slog.Logger
}

// NewSlogAPI returns a SlogAPI writing to the given logger, a nil logger means
// slog.Default() at the time of each call.
func NewSlogAPI(logger *slog.Logger) SlogAPI {
	return SlogAPI{logger: logger}
}

func (s SlogAPI) log() *slog.Logger {
	if s.logger == nil {
		return slog.Default()
	}
	return s.logger
}

func (SlogAPI) formatParams(out *[]any, params []any) {
	for i, p := range params {
		if err, ok := p.(error); ok {
			*out = append(*out, fmt.Sprintf("params.%d", i), err.Error())
			continue
		}
		*out = append(
			*out,
			fmt.Sprintf("params.%d", i),
			p,
		)
	}
}

func (s SlogAPI) ReportBroken(id string, params ...any) {
	remainingPairs := []any{"id", id}
	s.formatParams(&remainingPairs, params)
	s.log().Error("broken component", remainingPairs...)
}

func (s SlogAPI) ReportWarning(id string, params ...any) {
	remainingPairs := []any{"id", id}
	s.formatParams(&remainingPairs, params)
	s.log().Warn("warning", remainingPairs...)
}

func (s SlogAPI) ReportInfo(msg string, params ...any) {
	remainingPairs := []any{}
	s.formatParams(&remainingPairs, params)
	s.log().Info(msg, remainingPairs...)
}

func (s SlogAPI) ReportDebug(msg string, params ...any) {
	remainingPairs := []any{}
	s.formatParams(&remainingPairs, params)
	s.log().Debug(msg, remainingPairs...)
}

func (s SlogAPI) ReportCount(id string, count int64) {
	s.log().Info("count", "id", id, "n", count)

	gauge, err := meter.Int64Gauge(instrumentName(id))
	if err != nil {
		return
	}
	gauge.Record(context.Background(), count)
}

// instrumentName turns a scoped report id ("downloader: records.failed") into
// a valid otel instrument name ("downloader.records.failed").
func instrumentName(id string) string {
	return strings.NewReplacer(": ", ".", " ", "_").Replace(id)
}
