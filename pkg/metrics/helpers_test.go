package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// sample finds the series of family name whose labels include want.
func sample(reg *prometheus.Registry, name string, want map[string]string) (*dto.Metric, error) {
	mfs, err := reg.Gather()
	if err != nil {
		return nil, err
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, m := range mf.GetMetric() {
			have := make(map[string]string, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				have[lp.GetName()] = lp.GetValue()
			}
			for k, v := range want {
				if have[k] != v {
					continue next
				}
			}
			return m, nil
		}
		return nil, fmt.Errorf("%s has no series %v", name, want)
	}
	return nil, fmt.Errorf("%s not gathered", name)
}

func counter(reg *prometheus.Registry, name, label, value string) (float64, error) {
	m, err := sample(reg, name, map[string]string{label: value})
	if err != nil {
		return 0, err
	}
	return m.GetCounter().GetValue(), nil
}
