package metrics

import (
	"context"
	"sort"

	"github.com/prometheus/prometheus/prompb"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/mjasion/balena-home/freeclip/decoder"
	"github.com/mjasion/balena-home/freeclip/types"
)

const (
	MetricBatteryPercent  = "freeclip_battery_percent"
	MetricBatteryCharging = "freeclip_battery_charging"
	MetricRSSI            = "freeclip_rssi_dbm"
)

type part struct {
	name string
	cell func(decoder.BatteryReading) decoder.Cell
}

var parts = []part{
	{name: "case", cell: func(b decoder.BatteryReading) decoder.Cell { return b.Case }},
	{name: "left", cell: func(b decoder.BatteryReading) decoder.Cell { return b.Left }},
	{name: "right", cell: func(b decoder.BatteryReading) decoder.Cell { return b.Right }},
}

// BuildTimeSeries groups readings per device and emits, for each of them,
// one percent and one charging series per part plus an RSSI series
func BuildTimeSeries(ctx context.Context, readings []*types.Reading) []prompb.TimeSeries {
	_, span := otel.Tracer("metrics").Start(ctx, "metrics.BuildTimeSeries")
	defer span.End()

	type deviceKey struct {
		mac  string
		name string
	}
	byDevice := make(map[deviceKey][]*types.Reading)
	var keys []deviceKey
	for _, r := range readings {
		if r == nil {
			continue
		}
		key := deviceKey{mac: r.Address, name: r.Name}
		if _, ok := byDevice[key]; !ok {
			keys = append(keys, key)
		}
		byDevice[key] = append(byDevice[key], r)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].mac < keys[j].mac })

	var series []prompb.TimeSeries
	for _, key := range keys {
		device := byDevice[key]
		base := []prompb.Label{
			{Name: "mac", Value: key.mac},
			{Name: "name", Value: key.name},
		}

		for _, p := range parts {
			percent := make([]prompb.Sample, 0, len(device))
			charging := make([]prompb.Sample, 0, len(device))
			for _, r := range device {
				cell := p.cell(r.Battery)
				ts := r.Timestamp.UnixMilli()
				percent = append(percent, prompb.Sample{Value: float64(cell.Percent), Timestamp: ts})
				charging = append(charging, prompb.Sample{Value: boolValue(cell.Charging), Timestamp: ts})
			}
			partLabels := append(append([]prompb.Label{}, base...), prompb.Label{Name: "part", Value: p.name})
			series = append(series,
				prompb.TimeSeries{Labels: withName(MetricBatteryPercent, partLabels), Samples: percent},
				prompb.TimeSeries{Labels: withName(MetricBatteryCharging, partLabels), Samples: charging},
			)
		}

		rssi := make([]prompb.Sample, 0, len(device))
		for _, r := range device {
			rssi = append(rssi, prompb.Sample{Value: float64(r.RSSI), Timestamp: r.Timestamp.UnixMilli()})
		}
		series = append(series, prompb.TimeSeries{Labels: withName(MetricRSSI, base), Samples: rssi})
	}

	span.SetAttributes(
		attribute.Int("metrics.devices", len(keys)),
		attribute.Int("metrics.time_series_count", len(series)),
	)
	span.SetStatus(codes.Ok, "time series built")
	return series
}

func withName(metric string, labels []prompb.Label) []prompb.Label {
	out := make([]prompb.Label, 0, len(labels)+1)
	out = append(out, prompb.Label{Name: "__name__", Value: metric})
	return append(out, labels...)
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
