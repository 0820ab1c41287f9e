// Package coverage defines the policies that bound how many objects take
// part in a predictive search.
package coverage

import (
	"errors"
	"fmt"
	"strings"

	"github.com/signalsfoundry/conjunction-assessment/model"
)

// ErrUnknownMode is returned for a coverage mode name that isn't in the table.
var ErrUnknownMode = errors.New("unknown coverage mode")

// Mode names a coverage configuration.
type Mode string

const (
	Quick    Mode = "quick"
	Standard Mode = "standard"
	Extended Mode = "extended"
	Full     Mode = "full"
)

// Configuration is one coverage policy. MaxObjects == 0 means no cap.
// MaxCandidatePairs == 0 defers to the engine's own budget.
type Configuration struct {
	Mode              Mode
	Label             string
	Description       string
	MaxObjects        int
	MaxCandidatePairs int
}

// Unbounded reports whether the policy removes the object cap.
func (c Configuration) Unbounded() bool { return c.MaxObjects <= 0 }

var table = []Configuration{
	{
		Mode:              Quick,
		Label:             "Quick Scan",
		Description:       "First 100 objects, fast turnaround for interactive use.",
		MaxObjects:        100,
		MaxCandidatePairs: 5_000,
	},
	{
		Mode:              Standard,
		Label:             "Standard",
		Description:       "First 200 objects, balanced cost and coverage.",
		MaxObjects:        200,
		MaxCandidatePairs: 20_000,
	},
	{
		Mode:              Extended,
		Label:             "Extended",
		Description:       "First 500 objects, slower but wider coverage.",
		MaxObjects:        500,
		MaxCandidatePairs: 125_000,
	},
	{
		Mode:        Full,
		Label:       "Full Coverage",
		Description: "Every supplied object; cost grows quadratically.",
	},
}

var byMode = func() map[Mode]Configuration {
	m := make(map[Mode]Configuration, len(table))
	for _, c := range table {
		m[c.Mode] = c
	}
	return m
}()

// Modes returns every configuration in display order.
func Modes() []Configuration {
	return append([]Configuration(nil), table...)
}

// Lookup resolves a mode name. Names are case-insensitive.
func Lookup(mode Mode) (Configuration, error) {
	c, ok := byMode[Mode(strings.ToLower(strings.TrimSpace(string(mode))))]
	if !ok {
		return Configuration{}, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
	return c, nil
}

// EffectiveCount is the number of objects a search will process out of total.
func (c Configuration) EffectiveCount(total int) int {
	if c.Unbounded() || total <= c.MaxObjects {
		return total
	}
	return c.MaxObjects
}

// Clip returns at most MaxObjects objects, keeping the caller's order. The
// caller decides priority by ordering the input.
func (c Configuration) Clip(objects []model.TrackedObject) []model.TrackedObject {
	return objects[:c.EffectiveCount(len(objects))]
}
