package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestCronMetricsRecordsRunsByResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCronMetrics(reg)
	m.now = func() time.Time { return time.Unix(1767225600, 0) }

	m.ObserveRun("purchase-provisioning-retry", 250*time.Millisecond, nil)
	m.ObserveRun("purchase-provisioning-retry", time.Second, errors.New("db down"))
	m.ObserveRun("", time.Millisecond, nil)
	m.LockContended()
	m.LockContended()

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	runs := findMetricFamily(mfs, "billing_cron_job_runs_total")
	if runs == nil {
		t.Fatal("runs counter not exported")
	}
	got := map[string]float64{}
	for _, metric := range runs.GetMetric() {
		got[labelValue(metric, "job")+"/"+labelValue(metric, "result")] = metric.GetCounter().GetValue()
	}
	want := map[string]float64{
		"purchase-provisioning-retry/success": 1,
		"purchase-provisioning-retry/failure": 1,
		"unknown/success":                     1,
	}
	for key, value := range want {
		if got[key] != value {
			t.Fatalf("%s: expected %v got %v (all %v)", key, value, got[key], got)
		}
	}

	last := findMetricFamily(mfs, "billing_cron_job_last_success_timestamp_seconds")
	if last == nil || len(last.GetMetric()) != 2 {
		t.Fatalf("expected last-success gauge per successful job, got %v", last)
	}
	if v := last.GetMetric()[0].GetGauge().GetValue(); v != 1767225600 {
		t.Fatalf("unexpected last success %v", v)
	}

	contended := findMetricFamily(mfs, "billing_cron_lock_contended_total")
	if contended == nil || contended.GetMetric()[0].GetCounter().GetValue() != 2 {
		t.Fatalf("expected two contended cycles, got %v", contended)
	}

	hist := findMetricFamily(mfs, "billing_cron_job_duration_seconds")
	if hist == nil {
		t.Fatal("duration histogram not exported")
	}
	for _, metric := range hist.GetMetric() {
		if labelValue(metric, "job") == "purchase-provisioning-retry" && metric.GetHistogram().GetSampleCount() != 2 {
			t.Fatalf("expected both runs timed, got %d", metric.GetHistogram().GetSampleCount())
		}
	}
}

func TestCronMetricsNilIsNoop(t *testing.T) {
	m := NewCronMetrics(nil)
	if m != nil {
		t.Fatal("expected nil recorder without a registerer")
	}
	m.ObserveRun("job", time.Second, nil)
	m.LockContended()
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func labelValue(metric *dto.Metric, name string) string {
	for _, label := range metric.GetLabel() {
		if label.GetName() == name {
			return label.GetValue()
		}
	}
	return ""
}

func matchesLabel(labels []*dto.LabelPair, name, value string) bool {
	for _, label := range labels {
		if label.GetName() == name && label.GetValue() == value {
			return true
		}
	}
	return false
}
