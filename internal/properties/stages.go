// Package properties implements the derived-property stages that consume
// force constants: band structure, phonon DOS, Grüneisen parameters, and
// quasi-harmonic thermodynamics. The stage set is closed — one tagged
// variant per property kind, selected by the workflow configuration — and
// every stage is stateless and independent of the others.
package properties

import (
	"fmt"

	"phonoflow/internal/phonon"
	"phonoflow/internal/physics"
)

// Kind tags one derived-property stage.
type Kind string

const (
	KindBandStructure Kind = "band_structure"
	KindDos           Kind = "dos"
	KindGruneisen     Kind = "gruneisen"
	KindQHA           Kind = "qha"
)

// All lists the supported kinds in their canonical order.
var All = []Kind{KindBandStructure, KindDos, KindGruneisen, KindQHA}

// ParseKind maps a configuration string to a Kind.
func ParseKind(s string) (Kind, error) {
	for _, k := range All {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown property kind %q", s)
}

// StageConfig carries the per-property inputs the orchestrator supplies from
// the workflow configuration. Each kind reads only its own fields.
type StageConfig struct {
	QPath        []phonon.Vec3 `yaml:"q_path"`
	DosPoints    int           `yaml:"dos_points"`
	VolumeScales []float64     `yaml:"volume_scales"`
	Temperatures []float64     `yaml:"temperatures"`
}

// Result is the tagged output of one stage; exactly one payload field is
// set, matching Kind.
type Result struct {
	Kind      Kind                  `json:"kind"`
	Band      *phonon.BandStructure `json:"band,omitempty"`
	Dos       *phonon.Dos           `json:"dos,omitempty"`
	Gruneisen *phonon.Gruneisen     `json:"gruneisen,omitempty"`
	QHA       *phonon.QHA           `json:"qha,omitempty"`
}

// Validate checks that the configuration carries the inputs this kind
// declares it needs. Called before any stage runs so configuration holes
// surface as ConfigurationError, not mid-workflow stage failures.
func (k Kind) Validate(cfg StageConfig) error {
	switch k {
	case KindBandStructure:
		if len(cfg.QPath) == 0 {
			return fmt.Errorf("band_structure requires a q_path")
		}
	case KindDos:
		if cfg.DosPoints < 2 {
			return fmt.Errorf("dos requires dos_points >= 2, got %d", cfg.DosPoints)
		}
	case KindGruneisen:
		if len(cfg.VolumeScales) < 2 {
			return fmt.Errorf("gruneisen requires at least 2 volume_scales, got %d", len(cfg.VolumeScales))
		}
	case KindQHA:
		if len(cfg.Temperatures) == 0 {
			return fmt.Errorf("qha requires a temperatures grid")
		}
	default:
		return fmt.Errorf("unknown property kind %q", k)
	}
	return nil
}

// UsesNac reports whether the stage is sensitive to the long-wavelength
// correction.
func (k Kind) UsesNac() bool { return k == KindBandStructure }

// Compute runs one stage. nac may be nil; stages that use it degrade
// gracefully without it. Errors are stage-scoped: the caller records them
// per property and never escalates them to a workflow failure.
func Compute(engine physics.Engine, k Kind, fc *phonon.ForceConstants, nac *phonon.Nac, cfg StageConfig) (*Result, error) {
	switch k {
	case KindBandStructure:
		band, err := engine.ComputeBandStructure(fc, nac, cfg.QPath)
		if err != nil {
			return nil, fmt.Errorf("band structure: %w", err)
		}
		return &Result{Kind: k, Band: band}, nil
	case KindDos:
		dos, err := engine.ComputeDos(fc, cfg.DosPoints)
		if err != nil {
			return nil, fmt.Errorf("dos: %w", err)
		}
		return &Result{Kind: k, Dos: dos}, nil
	case KindGruneisen:
		g, err := engine.ComputeGruneisen(fc, cfg.VolumeScales)
		if err != nil {
			return nil, fmt.Errorf("gruneisen: %w", err)
		}
		return &Result{Kind: k, Gruneisen: g}, nil
	case KindQHA:
		q, err := engine.ComputeQHA(fc, cfg.Temperatures)
		if err != nil {
			return nil, fmt.Errorf("qha: %w", err)
		}
		return &Result{Kind: k, QHA: q}, nil
	default:
		return nil, fmt.Errorf("unknown property kind %q", k)
	}
}
