package pipeline

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/windturbine/am"
	"github.com/teranos/windturbine/errors"
	"github.com/teranos/windturbine/notify"
	"github.com/teranos/windturbine/persist"
	"github.com/teranos/windturbine/pulse/coordinator"
	"github.com/teranos/windturbine/pulse/dag"
	"github.com/teranos/windturbine/sensor"
)

// NotifyTimeout bounds one notification attempt unless Settings says otherwise
const NotifyTimeout = time.Minute

// Settings is the resolved configuration the pipeline is built from
type Settings struct {
	ArtifactPath   string
	ArtifactFormat string
	PokeInterval   time.Duration
	PokeTimeout    time.Duration
	Retry          dag.RetryPolicy

	Driver string
	Table  string

	Threshold       float64
	DAGName         string
	Recipient       string
	NotifyOnFailure bool
	NotifyTimeout   time.Duration // Per attempt; zero means NotifyTimeout

	Workers      int
	RetainedRuns int
}

// SettingsFromConfig converts the loaded configuration
func SettingsFromConfig(cfg *am.Config) Settings {
	return Settings{
		ArtifactPath:    cfg.Sensor.Path,
		ArtifactFormat:  cfg.Sensor.Format,
		PokeInterval:    cfg.Sensor.PokeInterval(),
		PokeTimeout:     cfg.Sensor.Timeout(),
		Retry:           dag.RetryPolicy{Retries: cfg.Retry.Count, Delay: cfg.Retry.Delay()},
		Driver:          cfg.Destination.Driver,
		Table:           cfg.Destination.Table,
		Threshold:       cfg.Alert.Threshold,
		DAGName:         cfg.Notify.DAGName,
		Recipient:       cfg.Notify.Recipient,
		NotifyOnFailure: cfg.Notify.OnFailure,
		Workers:         cfg.Pulse.Workers,
		RetainedRuns:    cfg.Pulse.RetainedRuns,
	}
}

// Deps are the external collaborators of the pipeline
type Deps struct {
	Destination *sql.DB
	Sender      notify.Sender
	Observers   []coordinator.Observer
}

// Pipeline is a started-on-demand coordinator over the windturbine DAG
type Pipeline struct {
	*coordinator.Coordinator

	settings Settings
	table    *persist.Table
}

// New validates the DAG and wires the coordinator. Extra options are
// passed to coordinator.New after the pipeline's own observers.
func New(settings Settings, deps Deps, log *zap.SugaredLogger, opts ...coordinator.Option) (*Pipeline, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if deps.Destination == nil {
		return nil, errors.New("pipeline needs a destination database")
	}
	if deps.Sender == nil {
		return nil, errors.New("pipeline needs a notification sender")
	}

	table, err := persist.NewTable(deps.Destination, settings.Driver, settings.Table, sensor.Fields, log.Named("persist"))
	if err != nil {
		return nil, errors.Wrap(err, "destination table")
	}
	templates := notify.Templates{DAGName: settings.DAGName, Recipient: settings.Recipient}

	graph, err := Graph(settings, table, deps.Sender)
	if err != nil {
		return nil, err
	}

	observers := append([]coordinator.Observer(nil), deps.Observers...)
	if settings.NotifyOnFailure {
		observers = append(observers, &FailureNotifier{Sender: deps.Sender, Templates: templates, Log: log})
	}
	all := append([]coordinator.Option{coordinator.WithObserver(observers...)}, opts...)

	coord := coordinator.New(graph, coordinator.Config{
		Workers:      settings.Workers,
		RetainedRuns: settings.RetainedRuns,
	}, log, all...)

	return &Pipeline{Coordinator: coord, settings: settings, table: table}, nil
}

// Graph builds and validates the windturbine DAG:
//
//	wait_for_file -> extract -> persist_schema -> persist_row
//	                         -> evaluate_condition -> notify_alert | notify_normal
func Graph(settings Settings, table *persist.Table, sender notify.Sender) (*dag.Graph, error) {
	sensorStep := sensor.FileSensor{Path: settings.ArtifactPath}
	extractor := sensor.Extractor{Path: settings.ArtifactPath, Format: settings.ArtifactFormat}
	p := persister{table: table}
	e := evaluator{threshold: settings.Threshold}
	n := notifier{sender: sender, templates: notify.Templates{DAGName: settings.DAGName, Recipient: settings.Recipient}}
	notifyTimeout := settings.NotifyTimeout
	if notifyTimeout <= 0 {
		notifyTimeout = NotifyTimeout
	}

	graph, err := dag.New(settings.Retry,
		dag.Step{
			ID:   StepWaitForFile,
			Run:  sensorStep.Poke,
			Poke: &dag.PokePolicy{Interval: settings.PokeInterval, Timeout: settings.PokeTimeout},
		},
		dag.Step{ID: StepExtract, Upstream: []dag.StepID{StepWaitForFile}, Run: extractor.Extract},
		dag.Step{ID: StepPersistSchema, Upstream: []dag.StepID{StepExtract}, Run: p.schema},
		dag.Step{ID: StepPersistRow, Upstream: []dag.StepID{StepPersistSchema}, Run: p.row},
		dag.Step{
			ID:       StepEvaluateCondition,
			Upstream: []dag.StepID{StepExtract},
			Run:      e.run,
			Branches: []dag.StepID{StepNotifyAlert, StepNotifyNormal},
		},
		dag.Step{ID: StepNotifyAlert, Upstream: []dag.StepID{StepEvaluateCondition}, Run: n.alert, Timeout: notifyTimeout},
		dag.Step{ID: StepNotifyNormal, Upstream: []dag.StepID{StepEvaluateCondition}, Run: n.normal, Timeout: notifyTimeout},
	)
	if err != nil {
		return nil, errors.Wrap(err, "windturbine graph")
	}
	return graph, nil
}

// Settings returns the settings the pipeline was built with
func (p *Pipeline) Settings() Settings { return p.settings }

// Table returns the destination table
func (p *Pipeline) Table() *persist.Table { return p.table }

// RunOnce starts the coordinator if needed, runs one pipeline run and waits for it
func (p *Pipeline) RunOnce(ctx context.Context, trig coordinator.Trigger) (*coordinator.RunResult, error) {
	p.Start()
	if trig.At.IsZero() {
		trig.At = time.Now()
	}
	return p.Run(ctx, trig)
}
