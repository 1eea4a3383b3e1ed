// Package phase implements the temporal strategy gate: a static table of
// named trading-day phases, each carrying its own risk parameters, and the
// admission check that filters candidate trades by the rules of whichever
// phase contains the current wall-clock time.
package phase

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// ClosedName is the implicit phase returned when no configured range
// contains the current time-of-day
const ClosedName = "closed"

// Config is the YAML shape of a single phase entry
type Config struct {
	Name               string   `yaml:"name"`
	Start              string   `yaml:"start"` // "15:04" venue-local
	End                string   `yaml:"end"`
	RiskLevel          string   `yaml:"risk_level"`
	AllowedStrategies  []string `yaml:"allowed_strategies"`
	PositionMultiplier float64  `yaml:"position_multiplier"`
	MinConfidence      float64  `yaml:"min_confidence"`
	MaxTrades          int      `yaml:"max_trades"`
	TickSeconds        int      `yaml:"tick_seconds,omitempty"`
}

// ScheduleConfig is the YAML shape of the full phase table
type ScheduleConfig struct {
	Timezone          string   `yaml:"timezone"`
	ClosedTickSeconds int      `yaml:"closed_tick_seconds"`
	Phases            []Config `yaml:"phases"`
}

// Phase is a validated, immutable phase table entry. Start and End are
// minutes since midnight in the venue's clock; the range is half-open
// [Start, End), so a boundary minute belongs to the later phase.
type Phase struct {
	Name               string
	Start              int
	End                int
	RiskLevel          string
	Allowed            map[string]struct{}
	PositionMultiplier float64
	MinConfidence      float64
	MaxTrades          int
	TickInterval       time.Duration
}

// Contains reports whether the minute-of-day m falls inside the phase
func (p Phase) Contains(m int) bool {
	return m >= p.Start && m < p.End
}

// IsClosed reports whether this is the implicit closed phase
func (p Phase) IsClosed() bool {
	return p.Name == ClosedName
}

// Schedule is the loaded phase table. It is immutable after construction
// and safe for concurrent use.
type Schedule struct {
	phases         []Phase // sorted by Start, validated non-overlapping
	location       *time.Location
	closedInterval time.Duration
}

// DefaultScheduleConfig returns a conventional US-equity style phase table
func DefaultScheduleConfig() ScheduleConfig {
	return ScheduleConfig{
		Timezone:          "America/New_York",
		ClosedTickSeconds: 120,
		Phases: []Config{
			{Name: "pre_open", Start: "08:00", End: "09:30", RiskLevel: "minimal",
				AllowedStrategies:  []string{"gap_analysis"},
				PositionMultiplier: 0.3, MinConfidence: 0.8, MaxTrades: 2, TickSeconds: 60},
			{Name: "opening_range", Start: "09:30", End: "10:00", RiskLevel: "high",
				AllowedStrategies:  []string{"breakout", "momentum"},
				PositionMultiplier: 0.7, MinConfidence: 0.75, MaxTrades: 3, TickSeconds: 15},
			{Name: "morning", Start: "10:00", End: "11:30", RiskLevel: "medium",
				AllowedStrategies:  []string{"momentum", "mean_reversion", "breakout"},
				PositionMultiplier: 1.0, MinConfidence: 0.6, MaxTrades: 8, TickSeconds: 30},
			{Name: "midday", Start: "11:30", End: "14:00", RiskLevel: "low",
				AllowedStrategies:  []string{"mean_reversion", "range"},
				PositionMultiplier: 0.6, MinConfidence: 0.7, MaxTrades: 4, TickSeconds: 60},
			{Name: "afternoon", Start: "14:00", End: "15:30", RiskLevel: "medium",
				AllowedStrategies:  []string{"momentum", "mean_reversion", "trend_follow"},
				PositionMultiplier: 1.0, MinConfidence: 0.6, MaxTrades: 8, TickSeconds: 30},
			{Name: "closing", Start: "15:30", End: "16:00", RiskLevel: "high",
				AllowedStrategies:  []string{"momentum", "closing_imbalance"},
				PositionMultiplier: 0.5, MinConfidence: 0.75, MaxTrades: 3, TickSeconds: 15},
			{Name: "post_close", Start: "16:00", End: "17:00", RiskLevel: "minimal",
				AllowedStrategies:  []string{"analysis"},
				PositionMultiplier: 0.2, MinConfidence: 0.85, MaxTrades: 1, TickSeconds: 60},
		},
	}
}

// LoadSchedule reads and validates a phase table from a YAML file
func LoadSchedule(path string) (*Schedule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read phase config: %w", err)
	}

	var cfg ScheduleConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse phase config: %w", err)
	}

	return NewSchedule(cfg)
}

// NewSchedule validates a phase table and builds the immutable schedule.
// Overlapping phases are a configuration error, rejected here rather than
// discovered at runtime.
func NewSchedule(cfg ScheduleConfig) (*Schedule, error) {
	if cfg.Timezone == "" {
		cfg.Timezone = "UTC"
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
	}
	if len(cfg.Phases) == 0 {
		return nil, fmt.Errorf("phase table is empty")
	}

	phases := make([]Phase, 0, len(cfg.Phases))
	for _, pc := range cfg.Phases {
		p, err := buildPhase(pc)
		if err != nil {
			return nil, fmt.Errorf("phase %q: %w", pc.Name, err)
		}
		phases = append(phases, p)
	}

	sort.Slice(phases, func(i, j int) bool { return phases[i].Start < phases[j].Start })

	for i := 1; i < len(phases); i++ {
		if phases[i].Start < phases[i-1].End {
			return nil, fmt.Errorf("phases %q and %q overlap (%s starts before %s ends)",
				phases[i-1].Name, phases[i].Name, phases[i].Name, phases[i-1].Name)
		}
	}

	closedInterval := time.Duration(cfg.ClosedTickSeconds) * time.Second
	if closedInterval <= 0 {
		closedInterval = 2 * time.Minute
	}

	return &Schedule{phases: phases, location: loc, closedInterval: closedInterval}, nil
}

func buildPhase(pc Config) (Phase, error) {
	if pc.Name == "" {
		return Phase{}, fmt.Errorf("missing name")
	}
	if pc.Name == ClosedName {
		return Phase{}, fmt.Errorf("%q is reserved for the implicit closed phase", ClosedName)
	}

	start, err := parseMinuteOfDay(pc.Start)
	if err != nil {
		return Phase{}, fmt.Errorf("invalid start %q: %w", pc.Start, err)
	}
	end, err := parseMinuteOfDay(pc.End)
	if err != nil {
		return Phase{}, fmt.Errorf("invalid end %q: %w", pc.End, err)
	}
	if end <= start {
		return Phase{}, fmt.Errorf("end %q must be after start %q", pc.End, pc.Start)
	}
	if pc.PositionMultiplier <= 0 {
		return Phase{}, fmt.Errorf("position multiplier must be positive, got %.2f", pc.PositionMultiplier)
	}
	if pc.MinConfidence < 0 || pc.MinConfidence > 1 {
		return Phase{}, fmt.Errorf("min confidence must be in [0,1], got %.2f", pc.MinConfidence)
	}
	if pc.MaxTrades < 0 {
		return Phase{}, fmt.Errorf("max trades must be non-negative, got %d", pc.MaxTrades)
	}

	allowed := make(map[string]struct{}, len(pc.AllowedStrategies))
	for _, s := range pc.AllowedStrategies {
		allowed[s] = struct{}{}
	}

	tick := time.Duration(pc.TickSeconds) * time.Second
	if tick <= 0 {
		tick = 30 * time.Second
	}

	return Phase{
		Name:               pc.Name,
		Start:              start,
		End:                end,
		RiskLevel:          pc.RiskLevel,
		Allowed:            allowed,
		PositionMultiplier: pc.PositionMultiplier,
		MinConfidence:      pc.MinConfidence,
		MaxTrades:          pc.MaxTrades,
		TickInterval:       tick,
	}, nil
}

func parseMinuteOfDay(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

// closedPhase is what Current returns outside every configured range
func (s *Schedule) closedPhase() Phase {
	return Phase{
		Name:         ClosedName,
		RiskLevel:    "none",
		TickInterval: s.closedInterval,
	}
}

// Current returns the single phase containing now's time-of-day in the
// venue's clock, or the implicit closed phase. Ranges are half-open, so a
// shared boundary minute belongs to the later phase.
func (s *Schedule) Current(now time.Time) Phase {
	local := now.In(s.location)
	minute := local.Hour()*60 + local.Minute()

	for _, p := range s.phases {
		if p.Contains(minute) {
			return p
		}
	}
	return s.closedPhase()
}

// Location returns the venue clock the schedule operates in
func (s *Schedule) Location() *time.Location {
	return s.location
}

// Phases returns the configured table in start order
func (s *Schedule) Phases() []Phase {
	out := make([]Phase, len(s.phases))
	copy(out, s.phases)
	return out
}

// Change describes the next upcoming phase boundary
type Change struct {
	Next     Phase
	StartsAt time.Time
	Until    time.Duration
}

// NextChange finds the chronologically nearest future phase start, wrapping
// to the first phase of the following calendar day when no start remains
// today.
func (s *Schedule) NextChange(now time.Time) Change {
	local := now.In(s.location)
	minute := local.Hour()*60 + local.Minute()
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.location)

	for _, p := range s.phases {
		if p.Start > minute {
			startsAt := midnight.Add(time.Duration(p.Start) * time.Minute)
			return Change{Next: p, StartsAt: startsAt, Until: startsAt.Sub(local)}
		}
	}

	// Wrap to tomorrow's first phase
	first := s.phases[0]
	startsAt := midnight.AddDate(0, 0, 1).Add(time.Duration(first.Start) * time.Minute)
	return Change{Next: first, StartsAt: startsAt, Until: startsAt.Sub(local)}
}
