package main

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/kschmeckpeper/manipulathor/internal/env"
	"github.com/kschmeckpeper/manipulathor/internal/sensors"
)

// policy picks the next action index.
type policy interface {
	Reset()
	Act(obs sensors.Observation) int
}

// randomPolicy samples actions uniformly.
type randomPolicy struct {
	actions env.ActionSet
	rng     *rand.Rand
}

func newRandomPolicy(actions env.ActionSet, seed uint64) *randomPolicy {
	return &randomPolicy{actions: actions, rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (p *randomPolicy) Reset() {}

func (p *randomPolicy) Act(sensors.Observation) int {
	return p.rng.IntN(len(p.actions))
}

// scriptedPolicy replays a fixed action list each episode and then ends
// the episode.
type scriptedPolicy struct {
	script []int
	done   int
	pos    int
}

func newScriptedPolicy(actions env.ActionSet, script string) (*scriptedPolicy, error) {
	p := &scriptedPolicy{done: actions.Index(env.Done)}
	if p.done < 0 {
		return nil, fmt.Errorf("action set has no %s", env.Done)
	}
	for _, name := range strings.Split(script, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		i := actions.Index(name)
		if i < 0 {
			return nil, fmt.Errorf("%w: %q in script", env.ErrUnknownAction, name)
		}
		p.script = append(p.script, i)
	}
	return p, nil
}

func (p *scriptedPolicy) Reset() { p.pos = 0 }

func (p *scriptedPolicy) Act(sensors.Observation) int {
	if p.pos >= len(p.script) {
		return p.done
	}
	a := p.script[p.pos]
	p.pos++
	return a
}

func newPolicy(name string, actions env.ActionSet, seed uint64, script string) (policy, error) {
	switch name {
	case "random":
		return newRandomPolicy(actions, seed), nil
	case "scripted":
		return newScriptedPolicy(actions, script)
	}
	return nil, fmt.Errorf("unknown policy %q (want random or scripted)", name)
}
