// Package sensor waits for a turbine sensor artifact, decodes it, and stages
// its fields for the rest of the pipeline.
package sensor

import (
	"github.com/teranos/windturbine/errors"
	"github.com/teranos/windturbine/pulse/staging"
)

// Field names as they appear in the artifact and the destination table
const (
	FieldID                = "idtemp"
	FieldPowerFactor       = "powerfactor"
	FieldHydraulicPressure = "hydraulicpressure"
	FieldTemperature       = "temperature"
	FieldTimestamp         = "timestamp"
)

// Fields lists the required fields in destination column order
var Fields = []string{FieldID, FieldPowerFactor, FieldHydraulicPressure, FieldTemperature, FieldTimestamp}

// Reading is one extracted sensor record.
// Values are kept as their literal text; nothing is coerced here.
type Reading struct {
	ID                string `json:"idtemp" yaml:"idtemp"`
	PowerFactor       string `json:"powerfactor" yaml:"powerfactor"`
	HydraulicPressure string `json:"hydraulicpressure" yaml:"hydraulicpressure"`
	Temperature       string `json:"temperature" yaml:"temperature"`
	Timestamp         string `json:"timestamp" yaml:"timestamp"`
}

// Values returns the fields in destination column order
func (r Reading) Values() []string {
	return []string{r.ID, r.PowerFactor, r.HydraulicPressure, r.Temperature, r.Timestamp}
}

// readingFromMap builds a Reading from decoded field text
func readingFromMap(fields map[string]string) Reading {
	return Reading{
		ID:                fields[FieldID],
		PowerFactor:       fields[FieldPowerFactor],
		HydraulicPressure: fields[FieldHydraulicPressure],
		Temperature:       fields[FieldTemperature],
		Timestamp:         fields[FieldTimestamp],
	}
}

// Stage writes all five fields to store in one atomic put
func (r Reading) Stage(store *staging.Store) error {
	values := make(map[staging.Key]any, len(Fields))
	for i, v := range r.Values() {
		values[staging.Key(Fields[i])] = v
	}
	return store.PutAll(values)
}

// FromStage reads a Reading staged by an upstream extract step
func FromStage(store *staging.Store) (Reading, error) {
	fields := make(map[string]string, len(Fields))
	for _, f := range Fields {
		v, err := staging.Get[string](store, staging.Key(f))
		if err != nil {
			return Reading{}, errors.Wrap(err, "reading not staged")
		}
		fields[f] = v
	}
	return readingFromMap(fields), nil
}
