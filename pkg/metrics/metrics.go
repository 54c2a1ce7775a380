// Package metrics records stage timings and scenario outcomes in a private
// prometheus registry that is written to a textfile at the end of a run.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/marconotaro/cancer-subtypes/pkg/clustering"
	"github.com/marconotaro/cancer-subtypes/pkg/replicate"
)

const namespace = "subtype"

// Outcome label values
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Recorder owns the registry and the collectors of one run
type Recorder struct {
	registry *prometheus.Registry

	stageDuration *prometheus.HistogramVec
	scenarioRuns  *prometheus.CounterVec
	communities   *prometheus.GaugeVec
	modularity    *prometheus.GaugeVec
	patients      *prometheus.GaugeVec
	agreement     *prometheus.GaugeVec
	replicates    *prometheus.GaugeVec
}

// NewRecorder creates a recorder; runID becomes a constant label on every series
func NewRecorder(runID string) *Recorder {
	constLabels := prometheus.Labels{}
	if runID != "" {
		constLabels["run_id"] = runID
	}

	r := &Recorder{
		registry: prometheus.NewRegistry(),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "stage_duration_seconds",
			Help:        "Wall time of each pipeline stage.",
			Buckets:     []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 300},
			ConstLabels: constLabels,
		}, []string{"scenario", "stage"}),
		scenarioRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "scenario_runs_total",
			Help:        "Scenario runs by outcome.",
			ConstLabels: constLabels,
		}, []string{"scenario", "outcome"}),
		communities: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "communities",
			Help:        "Number of communities found.",
			ConstLabels: constLabels,
		}, []string{"scenario"}),
		modularity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "modularity",
			Help:        "Modularity of the final partition.",
			ConstLabels: constLabels,
		}, []string{"scenario"}),
		patients: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "patients",
			Help:        "Patients clustered and excluded per scenario.",
			ConstLabels: constLabels,
		}, []string{"scenario", "status"}),
		agreement: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "reference_agreement",
			Help:        "Agreement of communities with the reference subtypes.",
			ConstLabels: constLabels,
		}, []string{"scenario", "index"}),
		replicates: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "replicate_pairs",
			Help:        "Technical replicate pairs by quality.",
			ConstLabels: constLabels,
		}, []string{"quality"}),
	}

	r.registry.MustRegister(
		r.stageDuration,
		r.scenarioRuns,
		r.communities,
		r.modularity,
		r.patients,
		r.agreement,
		r.replicates,
	)
	return r
}

// Registry exposes the underlying registry
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// ObserveStage implements clustering.Observer
func (r *Recorder) ObserveStage(scenario, stage string, d time.Duration) {
	r.stageDuration.WithLabelValues(scenario, stage).Observe(d.Seconds())
}

// ObserveResult implements clustering.Observer
func (r *Recorder) ObserveResult(res *clustering.Result) {
	name := res.Scenario.Name
	r.patients.WithLabelValues(name, "excluded").Set(float64(res.Excluded))

	if !res.Success {
		r.scenarioRuns.WithLabelValues(name, OutcomeFailure).Inc()
		return
	}
	r.scenarioRuns.WithLabelValues(name, OutcomeSuccess).Inc()
	r.patients.WithLabelValues(name, "clustered").Set(float64(res.NumPatients()))
	r.communities.WithLabelValues(name).Set(float64(res.Clustering.NumCommunities()))
	r.modularity.WithLabelValues(name).Set(res.Clustering.Modularity)
	if res.Agreement != nil {
		r.agreement.WithLabelValues(name, "nmi").Set(res.Agreement.NMI)
		r.agreement.WithLabelValues(name, "ari").Set(res.Agreement.ARI)
	}
}

// ObserveReplicates records the replicate validation summary
func (r *Recorder) ObserveReplicates(report *replicate.Report) {
	r.replicates.WithLabelValues("total").Set(float64(len(report.Pairs)))
	r.replicates.WithLabelValues("informative").Set(float64(report.NumInformative()))
	r.replicates.WithLabelValues("significant").Set(float64(report.NumSignificant()))
}

// WriteTextfile writes all series in the text exposition format, for the
// node exporter textfile collector
func (r *Recorder) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}

var _ clustering.Observer = (*Recorder)(nil)
