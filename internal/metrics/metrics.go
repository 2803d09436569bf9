// Package metrics exposes Prometheus counters for csrf token issuance and validation.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder counts csrf events. A nil *Recorder is a no-op.
type Recorder struct {
	tokensIssued prometheus.Counter
	validations  *prometheus.CounterVec
}

// NewRecorder creates the csrf collectors and registers them on reg (or the default registerer if nil).
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	r := &Recorder{
		tokensIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "csrf_tokens_issued_total",
			Help: "CSRF tokens issued to clients",
		}),
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "csrf_validations_total",
			Help: "CSRF checks on protected requests by outcome and rejection reason",
		}, []string{"outcome", "reason"}),
	}

	var err error
	if r.tokensIssued, err = register(reg, r.tokensIssued); err != nil {
		return nil, err
	}
	if r.validations, err = register(reg, r.validations); err != nil {
		return nil, err
	}
	return r, nil
}

// TokenIssued increments the issued tokens counter.
func (r *Recorder) TokenIssued() {
	if r == nil {
		return
	}
	r.tokensIssued.Inc()
}

// ObserveValidation counts a validation outcome. reason is empty unless the request was rejected.
func (r *Recorder) ObserveValidation(outcome, reason string) {
	if r == nil {
		return
	}
	r.validations.WithLabelValues(outcome, reason).Inc()
}

// register reuses an already registered collector of the same shape.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}
