package config

import (
	"fmt"
	"strings"
)

type Feature int

const (
	FeatNamedDevices Feature = iota
	FeatSingleLineIf
	FeatHexLiterals
	FeatUnderscoreIdents
	FeatCount
)

type Warning int

const (
	WarnUnreachableCode Warning = iota
	WarnUnreferencedLabel
	WarnSpill
	WarnBudget
	WarnShadow
	WarnExtra
	WarnCount
)

// OptLevel selects how hard the instruction budget optimizer works.
type OptLevel int

const (
	OptNone OptLevel = iota
	OptBasic
	OptAggressive
)

func (o OptLevel) String() string {
	switch o {
	case OptNone:
		return "none"
	case OptBasic:
		return "basic"
	case OptAggressive:
		return "aggressive"
	}
	return fmt.Sprintf("OptLevel(%d)", int(o))
}

type Info struct {
	Name        string
	Enabled     bool
	Description string
}

type Config struct {
	Features   map[Feature]Info
	Warnings   map[Warning]Info
	FeatureMap map[string]Feature
	WarningMap map[string]Warning

	Opt OptLevel

	// Target machine limits. Fixed by the IC housing hardware; kept as
	// fields so tests can tighten them.
	Registers       int // general registers r0..r{n-1}
	Pins            int // device pins d0..d{n-1}
	MaxInstructions int // executable line budget
	StackSlots      int // value stack depth
	BudgetWarnAt    int // warn when the emitted count reaches this
}

func NewConfig() *Config {
	cfg := &Config{
		Features:        make(map[Feature]Info),
		Warnings:        make(map[Warning]Info),
		FeatureMap:      make(map[string]Feature),
		WarningMap:      make(map[string]Warning),
		Opt:             OptBasic,
		Registers:       16,
		Pins:            6,
		MaxInstructions: 128,
		StackSlots:      512,
		BudgetWarnAt:    120,
	}

	features := map[Feature]Info{
		FeatNamedDevices:     {"named-devices", true, "Allow DEVICE declarations addressed by prefab/name hash."},
		FeatSingleLineIf:     {"single-line-if", true, "Allow `IF cond THEN stmt` on one line without ENDIF."},
		FeatHexLiterals:      {"hex-literals", true, "Allow 0x-prefixed integer literals."},
		FeatUnderscoreIdents: {"underscore-idents", true, "Allow '_' in identifiers."},
	}

	warnings := map[Warning]Info{
		WarnUnreachableCode:   {"unreachable-code", true, "Warn about statements the optimizer proved unreachable."},
		WarnUnreferencedLabel: {"unreferenced-label", true, "Warn about labels no jump or branch targets."},
		WarnSpill:             {"spill", false, "Warn when a variable is spilled to the stack."},
		WarnBudget:            {"budget", true, "Warn when emitted code approaches the instruction budget."},
		WarnShadow:            {"shadow", true, "Warn when a declaration shadows an outer binding."},
		WarnExtra:             {"extra", false, "Enable extra miscellaneous warnings."},
	}

	cfg.Features, cfg.Warnings = features, warnings
	for ft, info := range features {
		cfg.FeatureMap[info.Name] = ft
	}
	for wt, info := range warnings {
		cfg.WarningMap[info.Name] = wt
	}

	return cfg
}

func (c *Config) SetFeature(ft Feature, enabled bool) {
	if info, ok := c.Features[ft]; ok {
		info.Enabled = enabled
		c.Features[ft] = info
	}
}

func (c *Config) IsFeatureEnabled(ft Feature) bool { return c.Features[ft].Enabled }

func (c *Config) SetWarning(wt Warning, enabled bool) {
	if info, ok := c.Warnings[wt]; ok {
		info.Enabled = enabled
		c.Warnings[wt] = info
	}
}

func (c *Config) IsWarningEnabled(wt Warning) bool { return c.Warnings[wt].Enabled }

// ApplyOpt selects the optimization level by name.
func (c *Config) ApplyOpt(name string) error {
	switch strings.ToLower(name) {
	case "none", "0":
		c.Opt = OptNone
	case "basic", "1":
		c.Opt = OptBasic
	case "aggressive", "2":
		c.Opt = OptAggressive
	default:
		return fmt.Errorf("unsupported optimization level '%s'. Supported: 'none', 'basic', 'aggressive'", name)
	}
	return nil
}

func (c *Config) applyFlag(flag string) {
	trimmed := strings.TrimPrefix(flag, "-")
	isNo := strings.HasPrefix(trimmed, "Wno-") || strings.HasPrefix(trimmed, "Fno-")
	enable := !isNo

	var name string
	var isWarning bool

	switch {
	case strings.HasPrefix(trimmed, "W"):
		name = strings.TrimPrefix(trimmed, "W")
		if isNo {
			name = strings.TrimPrefix(name, "no-")
		}
		isWarning = true
	case strings.HasPrefix(trimmed, "F"):
		name = strings.TrimPrefix(trimmed, "F")
		if isNo {
			name = strings.TrimPrefix(name, "no-")
		}
	default:
		name = trimmed
		isWarning = true
	}

	if name == "all" && isWarning {
		for i := Warning(0); i < WarnCount; i++ {
			c.SetWarning(i, enable)
		}
		return
	}

	if isWarning {
		if w, ok := c.WarningMap[name]; ok {
			c.SetWarning(w, enable)
		}
	} else {
		if f, ok := c.FeatureMap[name]; ok {
			c.SetFeature(f, enable)
		}
	}
}

// ProcessFlags applies -W/-F style toggles collected by the CLI.
func (c *Config) ProcessFlags(flags []string) {
	for _, flag := range flags {
		c.applyFlag(flag)
	}
}
