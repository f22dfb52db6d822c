package sensor

import (
	"context"
	"io/fs"
	"os"

	"github.com/teranos/windturbine/errors"
	"github.com/teranos/windturbine/logger"
	"github.com/teranos/windturbine/pulse/dag"
)

// FileSensor succeeds once Path exists. Until then each poke reports
// errors.ErrNotReady and the coordinator reschedules it.
type FileSensor struct {
	Path string
}

// Poke is a dag.Func
func (s FileSensor) Poke(ctx context.Context, env dag.Env) (dag.Outcome, error) {
	_, err := os.Stat(s.Path)
	switch {
	case err == nil:
		env.Log.Infow("Sensor artifact found", logger.FieldPath, s.Path, "poke", env.Poke)
		return dag.Done(), nil
	case errors.Is(err, fs.ErrNotExist):
		env.Log.Debugw("Sensor artifact not present", logger.FieldPath, s.Path, "poke", env.Poke)
		return dag.Outcome{}, errors.Wrapf(errors.ErrNotReady, "artifact %s", s.Path)
	default:
		return dag.Outcome{}, errors.Wrapf(err, "stat artifact %s", s.Path)
	}
}

// Extractor reads the artifact, stages its fields and then deletes it
type Extractor struct {
	Path   string
	Format string

	// remove defaults to os.Remove
	remove func(string) error
}

// Extract is a dag.Func. A missing file is ErrNotFound, a bad document is
// ErrMalformedInput. Deletion failures are logged and do not fail the step.
func (e Extractor) Extract(ctx context.Context, env dag.Env) (dag.Outcome, error) {
	reading, err := e.Read()
	if err != nil {
		return dag.Outcome{}, err
	}

	if err := reading.Stage(env.Stage); err != nil {
		return dag.Outcome{}, errors.Wrap(err, "stage reading")
	}
	env.Log.Infow("Sensor reading extracted",
		logger.FieldPath, e.Path,
		FieldID, reading.ID,
		FieldTemperature, reading.Temperature)

	remove := e.remove
	if remove == nil {
		remove = os.Remove
	}
	if err := remove(e.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		env.Log.Warnw("Failed to delete sensor artifact", logger.FieldPath, e.Path, logger.FieldError, err)
	}
	return dag.Done(), nil
}

// Read decodes the artifact without staging or deleting it
func (e Extractor) Read() (Reading, error) {
	data, err := os.ReadFile(e.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Reading{}, errors.Mark(errors.Wrapf(err, "artifact %s", e.Path), errors.ErrNotFound)
		}
		return Reading{}, errors.Wrapf(err, "read artifact %s", e.Path)
	}
	reading, err := Decode(data, DetectFormat(e.Path, e.Format))
	if err != nil {
		return Reading{}, errors.Wrapf(err, "artifact %s", e.Path)
	}
	return reading, nil
}
