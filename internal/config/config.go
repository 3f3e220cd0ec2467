// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.


package config

import (
	"fmt"
	"strings"

	"github.com/nightphotons/contsub/internal/starless"
)

// Known flux fitters
const (
	FitterAperture = "aperture"
	FitterGaussian = "gaussian"
)

// Validated settings of a calibration or batch run. Passed by value, never changed after New
type Config struct {
	NarrowbandStarID     string
	BroadbandStarID      string
	NarrowbandStarlessID string
	BroadbandStarlessID  string

	StarlessEnabled      bool
	StarRemovalMethod    starless.Method
	StarRemovalCommand   string
	StarRemovalTimeout   string

	MaximumStars         int
	MaximumPeak          float64
	ApertureRadius       int
	Fitter               string
	GeneratePlot         bool
	PlotDirectory        string

	ReferencePath        string
	OutputDirectory      string
	OutputPostfix        string
	OutputExtension      string
	OverwriteExisting    bool
	Workers              int      // Upper limit for batch workers, 0 = automatic
}

// Builds a validated configuration from parameters
func New(p Params) (Config, error) {
	method:=starless.Method(p.StarRemovalMethod)
	c:=Config{
		NarrowbandStarID:     p.NarrowbandStarViewID,
		BroadbandStarID:      p.BroadbandStarViewID,
		NarrowbandStarlessID: p.NarrowbandStarlessViewID,
		BroadbandStarlessID:  p.BroadbandStarlessViewID,
		StarlessEnabled:      p.StarlessEnabled,
		StarRemovalMethod:    method,
		StarRemovalCommand:   p.StarRemovalCommand,
		StarRemovalTimeout:   p.StarRemovalTimeout,
		MaximumStars:         p.MaximumStars,
		MaximumPeak:          p.MaximumPeak,
		ApertureRadius:       p.ApertureRadius,
		Fitter:               strings.ToLower(p.Fitter),
		GeneratePlot:         p.GeneratePlot,
		PlotDirectory:        p.PlotDirectory,
		ReferencePath:        p.ReferencePath,
		OutputDirectory:      p.OutputDirectory,
		OutputPostfix:        p.OutputPostfix,
		OutputExtension:      p.OutputExtension,
		OverwriteExisting:    p.OverwriteExisting,
		Workers:              p.Workers,
	}
	if c.Fitter=="" { c.Fitter=FitterAperture }
	if c.ApertureRadius==0 { c.ApertureRadius=DefaultApertureRadius }
	if c.OutputExtension!="" && !strings.HasPrefix(c.OutputExtension, ".") {
		c.OutputExtension="."+c.OutputExtension
	}

	switch {
	case c.MaximumStars<=0:
		return Config{}, fmt.Errorf("MaximumStars must be positive, got %d", c.MaximumStars)
	case !(c.MaximumPeak>0):
		return Config{}, fmt.Errorf("MaximumPeak must be positive, got %g", c.MaximumPeak)
	case !method.Valid():
		return Config{}, fmt.Errorf("StarRemovalMethod must be 0 (none), 1 (external) or 2 (builtin), got %d", p.StarRemovalMethod)
	case c.ApertureRadius<1 || c.ApertureRadius>32:
		return Config{}, fmt.Errorf("ApertureRadius must be within 1..32, got %d", c.ApertureRadius)
	case c.Fitter!=FitterAperture && c.Fitter!=FitterGaussian:
		return Config{}, fmt.Errorf("unknown Fitter %q, want %s or %s", p.Fitter, FitterAperture, FitterGaussian)
	case c.Workers<0:
		return Config{}, fmt.Errorf("Workers must not be negative, got %d", c.Workers)
	}
	return c, nil
}

// Copy of the configuration with the given image ids
func (c Config) WithImages(narrowband, broadband, narrowbandStarless, broadbandStarless string) Config {
	c.NarrowbandStarID, c.BroadbandStarID=narrowband, broadband
	c.NarrowbandStarlessID, c.BroadbandStarlessID=narrowbandStarless, broadbandStarless
	return c
}

// Starless pair if both ids are set
func (c Config) HasStarlessPair() bool {
	return c.NarrowbandStarlessID!="" && c.BroadbandStarlessID!=""
}
