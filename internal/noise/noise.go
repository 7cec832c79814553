// Package noise generates per-episode actuation drift for locomotion
// commands. A Model draws its per-axis bias and variance from configured
// meta-distributions on Reset and then samples one Drift per move or rotate.
package noise

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// Model families.
const (
	TypeHabitat  = "habitat"
	TypeSimple1D = "simple1d"
)

// ErrUnknownType is returned by New for an unrecognised model family.
var ErrUnknownType = errors.New("unknown motion noise type")

// Drift is an actuation error: metres along and across the heading and
// degrees of extra rotation.
type Drift struct {
	Ahead    float64
	Lateral  float64
	Rotation float64
}

// Model is a stateful drift generator owned by a single environment.
type Model interface {
	// Reset redraws the per-axis bias and variance. Called once per scene reset.
	Reset()
	// AheadDrift samples the drift for a translation of nominal metres.
	AheadDrift(nominal float64) Drift
	// RotateDrift samples the drift for an in-place rotation.
	RotateDrift() Drift
}

// Meta is a normal meta-distribution given as [mean, variance].
type Meta struct {
	Mean     float64 `json:"mean"`
	Variance float64 `json:"variance"`
}

// AxisMeta holds the meta-distributions for one drift axis.
type AxisMeta struct {
	Bias     Meta `json:"bias_dist"`
	Variance Meta `json:"variance_dist"`
}

// Config selects and parameterises a Model.
type Config struct {
	Type    string
	Ahead   AxisMeta
	Lateral AxisMeta
	Turning AxisMeta
	// EffectScale multiplies every sample; 0 disables drift entirely.
	EffectScale float64
	Seed        uint64
}

// New builds the Model for cfg. An empty Type yields a habitat model with
// EffectScale forced to 0.
func New(cfg Config) (Model, error) {
	switch cfg.Type {
	case "":
		cfg.EffectScale = 0
		return newHabitat(cfg), nil
	case TypeHabitat:
		return newHabitat(cfg), nil
	case TypeSimple1D:
		return newSimple1D(cfg), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, cfg.Type)
	}
}

// axis is the per-episode distribution of one drift component.
type axis struct {
	meta AxisMeta
	dist distuv.Normal
}

// sampler holds the state shared by every model family.
type sampler struct {
	src   rand.Source
	scale float64

	ahead, lateral, turning axis
}

func newSampler(cfg Config) sampler {
	s := sampler{
		src:     rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15),
		scale:   cfg.EffectScale,
		ahead:   axis{meta: cfg.Ahead},
		lateral: axis{meta: cfg.Lateral},
		turning: axis{meta: cfg.Turning},
	}
	s.reset()
	return s
}

func (s *sampler) reset() {
	for _, a := range []*axis{&s.ahead, &s.lateral, &s.turning} {
		bias := distuv.Normal{Mu: a.meta.Bias.Mean, Sigma: math.Sqrt(a.meta.Bias.Variance), Src: s.src}
		variance := distuv.Normal{Mu: a.meta.Variance.Mean, Sigma: math.Sqrt(a.meta.Variance.Variance), Src: s.src}
		a.dist = distuv.Normal{
			Mu:    bias.Rand(),
			Sigma: math.Sqrt(math.Abs(variance.Rand())),
			Src:   s.src,
		}
	}
}

func (s *sampler) draw(a *axis) float64 {
	if s.scale == 0 {
		return 0
	}
	v := a.dist.Rand() * s.scale
	if math.IsNaN(v) || math.IsInf(v, 0) {
		panic(fmt.Sprintf("noise: non-finite drift %v (mu=%v sigma=%v scale=%v)", v, a.dist.Mu, a.dist.Sigma, s.scale))
	}
	return v
}

// habitat drifts on every axis for every command; translation drift grows
// with the commanded distance.
type habitat struct {
	sampler
}

func newHabitat(cfg Config) *habitat {
	return &habitat{sampler: newSampler(cfg)}
}

func (h *habitat) Reset() { h.reset() }

func (h *habitat) AheadDrift(nominal float64) Drift {
	m := math.Abs(nominal)
	return Drift{
		Ahead:    h.draw(&h.ahead) * m,
		Lateral:  h.draw(&h.lateral) * m,
		Rotation: h.draw(&h.turning),
	}
}

func (h *habitat) RotateDrift() Drift {
	return Drift{
		Ahead:    h.draw(&h.ahead),
		Lateral:  h.draw(&h.lateral),
		Rotation: h.draw(&h.turning),
	}
}

// simple1D only perturbs the commanded axis.
type simple1D struct {
	sampler
}

func newSimple1D(cfg Config) *simple1D {
	return &simple1D{sampler: newSampler(cfg)}
}

func (s *simple1D) Reset() { s.reset() }

func (s *simple1D) AheadDrift(float64) Drift {
	return Drift{Ahead: s.draw(&s.ahead)}
}

func (s *simple1D) RotateDrift() Drift {
	return Drift{Rotation: s.draw(&s.turning)}
}
