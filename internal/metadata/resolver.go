// Package metadata resolves auxiliary per-event scalars. Embedded header
// values win; statically configured defaults cover everything the container
// does not carry. Defaults are mandatory: the fallback chain never fails
// past the caller once a resolver validates at startup.
package metadata

import (
	"fmt"
	"time"

	"github.com/omdevteam/om-sub004/internal/detector"
	"github.com/omdevteam/om-sub004/internal/source"
)

// Quantity names a resolvable per-event scalar.
type Quantity string

const (
	BeamEnergy       Quantity = "beamEnergy"
	DetectorDistance Quantity = "detectorDistance"
	Timestamp        Quantity = "timestamp"
)

// Quantities lists every scalar a resolver must be able to answer for.
var Quantities = []Quantity{BeamEnergy, DetectorDistance, Timestamp}

// Resolver answers per-event scalar lookups with a deterministic
// header-then-default chain.
type Resolver struct {
	model    *detector.Model
	defaults map[Quantity]float64
}

// NewResolver validates that every known quantity has a default and returns
// a resolver bound to the model's header layout. A missing default is a
// ConfigError reported here, once, instead of per-event. The timestamp
// default may be omitted explicitly by setting it to the current wall
// clock upstream; it still must be present in the map.
func NewResolver(model *detector.Model, defaults map[Quantity]float64) (*Resolver, error) {
	for _, q := range Quantities {
		if _, ok := defaults[q]; !ok {
			return nil, &detector.ConfigError{
				Reason: fmt.Sprintf("no default configured for quantity %q", q),
			}
		}
	}
	copied := make(map[Quantity]float64, len(defaults))
	for q, v := range defaults {
		copied[q] = v
	}
	return &Resolver{model: model, defaults: copied}, nil
}

// DefaultTimestamp is a convenience default for the timestamp quantity when
// the run configuration leaves it unset.
func DefaultTimestamp() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// Resolve returns the value of quantity for one event. The header value is
// used when the model locates it, the key is present, and the index is in
// range; any structural problem falls through to the configured default.
func (r *Resolver) Resolve(meta source.FrameMetadata, q Quantity) float64 {
	if q == Timestamp {
		if meta.Timestamp != 0 {
			return meta.Timestamp
		}
		return r.defaults[q]
	}
	field, ok := r.model.Header[string(q)]
	if ok && meta.Header != nil {
		values, ok := meta.Header[field.Key]
		if ok && field.Index >= 0 && field.Index < len(values) {
			return values[field.Index]
		}
	}
	return r.defaults[q]
}
