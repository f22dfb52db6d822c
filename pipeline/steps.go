// Package pipeline assembles the windturbine DAG: wait for the sensor
// artifact, extract it, then persist the reading while choosing which
// temperature notification to send.
package pipeline

import (
	"context"
	"math"
	"strconv"
	"strings"

	"github.com/teranos/windturbine/errors"
	"github.com/teranos/windturbine/logger"
	"github.com/teranos/windturbine/notify"
	"github.com/teranos/windturbine/persist"
	"github.com/teranos/windturbine/pulse/dag"
	"github.com/teranos/windturbine/sensor"
)

// Step identifiers
const (
	StepWaitForFile       dag.StepID = "wait_for_file"
	StepExtract           dag.StepID = "extract"
	StepPersistSchema     dag.StepID = "persist_schema"
	StepPersistRow        dag.StepID = "persist_row"
	StepEvaluateCondition dag.StepID = "evaluate_condition"
	StepNotifyAlert       dag.StepID = "notify_alert"
	StepNotifyNormal      dag.StepID = "notify_normal"
)

// EvaluateTemperature selects notify_alert when raw >= threshold and
// notify_normal otherwise. Text that is not a finite decimal is malformed.
func EvaluateTemperature(raw string, threshold float64) (dag.StepID, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return "", errors.Mark(errors.Wrapf(err, "temperature %q", raw), errors.ErrMalformedInput)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "", errors.NewMalformedInputError("temperature %q is not a finite number", raw)
	}
	if v >= threshold {
		return StepNotifyAlert, nil
	}
	return StepNotifyNormal, nil
}

// evaluator is the evaluate_condition step
type evaluator struct {
	threshold float64
}

func (e evaluator) run(ctx context.Context, env dag.Env) (dag.Outcome, error) {
	reading, err := sensor.FromStage(env.Stage)
	if err != nil {
		return dag.Outcome{}, err
	}
	branch, err := EvaluateTemperature(reading.Temperature, e.threshold)
	if err != nil {
		return dag.Outcome{}, err
	}
	env.Log.Infow("Temperature evaluated",
		sensor.FieldTemperature, reading.Temperature,
		"threshold", e.threshold,
		logger.FieldBranch, branch)
	return dag.Choose(branch), nil
}

// persister holds the persist_schema and persist_row steps
type persister struct {
	table *persist.Table
}

func (p persister) schema(ctx context.Context, env dag.Env) (dag.Outcome, error) {
	return dag.Done(), p.table.EnsureSchema(ctx)
}

func (p persister) row(ctx context.Context, env dag.Env) (dag.Outcome, error) {
	reading, err := sensor.FromStage(env.Stage)
	if err != nil {
		return dag.Outcome{}, err
	}
	if err := p.table.Append(ctx, persist.Row(reading.Values())); err != nil {
		return dag.Outcome{}, err
	}
	env.Log.Infow("Reading persisted", logger.FieldTable, p.table.Name(), sensor.FieldID, reading.ID)
	return dag.Done(), nil
}

// notifier holds the two mutually exclusive notify steps
type notifier struct {
	sender    notify.Sender
	templates notify.Templates
}

func (n notifier) alert(ctx context.Context, env dag.Env) (dag.Outcome, error) {
	return dag.Done(), n.send(ctx, n.templates.Alert(env.RunID))
}

func (n notifier) normal(ctx context.Context, env dag.Env) (dag.Outcome, error) {
	return dag.Done(), n.send(ctx, n.templates.Normal(env.RunID))
}

// send classifies every failure as delivery, including a sender that gave up
// on an expired ctx without marking its error
func (n notifier) send(ctx context.Context, msg notify.Message) error {
	err := n.sender.Send(ctx, msg)
	if err != nil && !errors.Is(err, errors.ErrDelivery) {
		err = errors.Mark(err, errors.ErrDelivery)
	}
	return err
}
