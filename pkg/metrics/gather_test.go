package metrics

import (
	"fmt"
	"slices"

	dto "github.com/prometheus/client_model/go"
)

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	idx := slices.IndexFunc(mfs, func(mf *dto.MetricFamily) bool { return mf.GetName() == name })
	if idx < 0 {
		return nil
	}
	return mfs[idx]
}

// fetchCounterValue returns the counter of family name whose label equals value.
func fetchCounterValue(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric family %q not gathered", name)
	}
	for _, metric := range mf.GetMetric() {
		hasLabel := slices.ContainsFunc(metric.GetLabel(), func(pair *dto.LabelPair) bool {
			return pair.GetName() == label && pair.GetValue() == value
		})
		if hasLabel {
			return metric.GetCounter().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("%s has no series with %s=%q", name, label, value)
}
