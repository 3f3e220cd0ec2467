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
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"
)

const DefaultApertureRadius = 3

// Persisted flat key/value parameters. Loaded and saved verbatim, with type coercion only
type Params struct {
	NarrowbandStarViewID     string  `json:"NarrowbandStarViewID"     yaml:"NarrowbandStarViewID"`
	BroadbandStarViewID      string  `json:"BroadbandStarViewID"      yaml:"BroadbandStarViewID"`
	NarrowbandStarlessViewID string  `json:"NarrowbandStarlessViewID" yaml:"NarrowbandStarlessViewID"`
	BroadbandStarlessViewID  string  `json:"BroadbandStarlessViewID"  yaml:"BroadbandStarlessViewID"`
	StarlessEnabled          bool    `json:"StarlessEnabled"          yaml:"StarlessEnabled"`
	StarRemovalMethod        int     `json:"StarRemovalMethod"        yaml:"StarRemovalMethod"`
	StarRemovalCommand       string  `json:"StarRemovalCommand"       yaml:"StarRemovalCommand"`
	StarRemovalTimeout       string  `json:"StarRemovalTimeout"       yaml:"StarRemovalTimeout"`
	MaximumStars             int     `json:"MaximumStars"             yaml:"MaximumStars"`
	MaximumPeak              float64 `json:"MaximumPeak"              yaml:"MaximumPeak"`
	ApertureRadius           int     `json:"ApertureRadius"           yaml:"ApertureRadius"`
	Fitter                   string  `json:"Fitter"                   yaml:"Fitter"`
	GeneratePlot             bool    `json:"GeneratePlot"             yaml:"GeneratePlot"`
	PlotDirectory            string  `json:"PlotDirectory"            yaml:"PlotDirectory"`

	ReferencePath            string  `json:"ReferencePath"            yaml:"ReferencePath"`
	OutputDirectory          string  `json:"OutputDirectory"          yaml:"OutputDirectory"`
	OutputPostfix            string  `json:"OutputPostfix"            yaml:"OutputPostfix"`
	OutputExtension          string  `json:"OutputExtension"          yaml:"OutputExtension"`
	OverwriteExisting        bool    `json:"OverwriteExisting"        yaml:"OverwriteExisting"`
	Workers                  int     `json:"Workers"                  yaml:"Workers"`
}

// Defaults for a single calibration
func DefaultParams() Params {
	return Params{
		StarRemovalMethod: 1,
		MaximumStars:      400,
		MaximumPeak:       0.8,
		ApertureRadius:    DefaultApertureRadius,
		Fitter:            FitterAperture,
		GeneratePlot:      true,
		OutputPostfix:     "_iso",
		OutputExtension:   ".fits",
	}
}

// Defaults for batch runs
func DefaultBatchParams() Params {
	p:=DefaultParams()
	p.MaximumStars=200
	p.GeneratePlot=false
	return p
}

// Loads parameters from a JSON or YAML file, by extension, on top of the given defaults.
// Unknown keys are ignored.
func LoadParams(fileName string, defaults Params) (Params, error) {
	bs, err:=os.ReadFile(fileName)
	if err!=nil { return defaults, err }
	raw:=map[string]interface{}{}
	if isYAML(fileName) {
		err=yaml.Unmarshal(bs, &raw)
	} else {
		err=json.Unmarshal(bs, &raw)
	}
	if err!=nil { return defaults, fmt.Errorf("%s: %w", fileName, err) }
	p:=defaults
	if err:=p.Set(raw); err!=nil { return defaults, fmt.Errorf("%s: %w", fileName, err) }
	return p, nil
}

// Saves parameters as JSON or YAML, by extension
func (p Params) Save(fileName string) error {
	var bs []byte
	var err error
	if isYAML(fileName) {
		bs, err=yaml.Marshal(p)
	} else {
		bs, err=json.MarshalIndent(p, "", "  ")
	}
	if err!=nil { return err }
	return os.WriteFile(fileName, bs, 0644)
}

func isYAML(fileName string) bool {
	ext:=strings.ToLower(filepath.Ext(fileName))
	return ext==".yaml" || ext==".yml"
}

// Sets parameters from raw key/value pairs, coercing strings, numbers and booleans to the field types
func (p *Params) Set(raw map[string]interface{}) error {
	for k,v:=range raw {
		var err error
		switch k {
		case "NarrowbandStarViewID":     p.NarrowbandStarViewID=toString(v)
		case "BroadbandStarViewID":      p.BroadbandStarViewID=toString(v)
		case "NarrowbandStarlessViewID": p.NarrowbandStarlessViewID=toString(v)
		case "BroadbandStarlessViewID":  p.BroadbandStarlessViewID=toString(v)
		case "StarlessEnabled":          p.StarlessEnabled, err=toBool(v)
		case "StarRemovalMethod":        p.StarRemovalMethod, err=toInt(v)
		case "StarRemovalCommand":       p.StarRemovalCommand=toString(v)
		case "StarRemovalTimeout":       p.StarRemovalTimeout=toString(v)
		case "MaximumStars":             p.MaximumStars, err=toInt(v)
		case "MaximumPeak":              p.MaximumPeak, err=toFloat(v)
		case "ApertureRadius":           p.ApertureRadius, err=toInt(v)
		case "Fitter":                   p.Fitter=toString(v)
		case "GeneratePlot":             p.GeneratePlot, err=toBool(v)
		case "PlotDirectory":            p.PlotDirectory=toString(v)
		case "ReferencePath":            p.ReferencePath=toString(v)
		case "OutputDirectory":          p.OutputDirectory=toString(v)
		case "OutputPostfix":            p.OutputPostfix=toString(v)
		case "OutputExtension":          p.OutputExtension=toString(v)
		case "OverwriteExisting":        p.OverwriteExisting, err=toBool(v)
		case "Workers":                  p.Workers, err=toInt(v)
		}
		if err!=nil { return fmt.Errorf("parameter %s: %w", k, err) }
	}
	return nil
}

// Sets one parameter from its string form, as given on the command line
func (p *Params) SetString(key, value string) error {
	return p.Set(map[string]interface{}{key:value})
}

func toString(v interface{}) string {
	switch x:=v.(type) {
	case nil:    return ""
	case string: return x
	case float64: return strconv.FormatFloat(x, 'g', -1, 64)
	default:     return fmt.Sprint(x)
	}
}

func toBool(v interface{}) (bool, error) {
	switch x:=v.(type) {
	case bool:    return x, nil
	case string:  return strconv.ParseBool(strings.TrimSpace(x))
	case int:     return x!=0, nil
	case float64: return x!=0, nil
	default:      return false, fmt.Errorf("cannot convert %v to bool", v)
	}
}

func toInt(v interface{}) (int, error) {
	switch x:=v.(type) {
	case int:     return x, nil
	case float64:
		if x!=math.Trunc(x) { return 0, fmt.Errorf("%g is not an integer", x) }
		return int(x), nil
	case string:
		f, err:=strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err!=nil { return 0, err }
		return toInt(f)
	case bool:
		if x { return 1, nil }
		return 0, nil
	default:      return 0, fmt.Errorf("cannot convert %v to int", v)
	}
}

func toFloat(v interface{}) (float64, error) {
	switch x:=v.(type) {
	case float64: return x, nil
	case int:     return float64(x), nil
	case string:  return strconv.ParseFloat(strings.TrimSpace(x), 64)
	default:      return 0, fmt.Errorf("cannot convert %v to float", v)
	}
}
