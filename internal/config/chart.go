package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/ashureev/natal-chart/internal/astrology"
	"github.com/ashureev/natal-chart/internal/domain"
	"github.com/ashureev/natal-chart/internal/orchestrator"
	"gopkg.in/yaml.v3"
)

// ChartConfig is the chart computation and report tuning, loadable from YAML:
//
//	bodies: [sun, moon, mercury, asc, mc]
//	aspect_points: [sun, moon, asc, mc]
//	aspects: [conjunction, opposition, square, trine, sextile]
//	default_orb: 8
//	orbs: {sun: 10, moon: 10, asc: 5, mc: 5}
//	house_system: P
//	min_sentences: {positions-in-signs: 3, positions-in-houses: 2, aspects: 2}
//
// Keys left out of the file keep their defaults.
type ChartConfig struct {
	Bodies       []string           `yaml:"bodies"`
	AspectPoints []string           `yaml:"aspect_points"`
	Aspects      []string           `yaml:"aspects"`
	DefaultOrb   float64            `yaml:"default_orb"`
	Orbs         map[string]float64 `yaml:"orbs"`
	HouseSystem  string             `yaml:"house_system"`
	MinSentences map[string]int     `yaml:"min_sentences"`
}

// DefaultChartConfig mirrors astrology.DefaultSettings and orchestrator.DefaultConfig.
func DefaultChartConfig() ChartConfig {
	s := astrology.DefaultSettings()
	oc := orchestrator.DefaultConfig()
	cc := ChartConfig{
		DefaultOrb:   s.DefaultOrb,
		HouseSystem:  s.HouseSystem,
		Orbs:         make(map[string]float64, len(s.Orbs)),
		MinSentences: make(map[string]int, len(oc.MinSentences)),
	}
	for _, b := range s.Bodies {
		cc.Bodies = append(cc.Bodies, b.String())
	}
	for _, b := range s.AspectPoints {
		cc.AspectPoints = append(cc.AspectPoints, b.String())
	}
	for _, k := range s.AspectKinds {
		cc.Aspects = append(cc.Aspects, k.String())
	}
	for b, o := range s.Orbs {
		cc.Orbs[b.String()] = o
	}
	for id, n := range oc.MinSentences {
		cc.MinSentences[id] = n
	}
	return cc
}

// LoadFile overlays the YAML file at path onto c.
func (c *ChartConfig) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read chart config: %w", err)
	}
	var overlay ChartConfig
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("parse chart config %s: %w", path, err)
	}
	if overlay.Bodies != nil {
		c.Bodies = overlay.Bodies
	}
	if overlay.AspectPoints != nil {
		c.AspectPoints = overlay.AspectPoints
	}
	if overlay.Aspects != nil {
		c.Aspects = overlay.Aspects
	}
	if overlay.DefaultOrb != 0 {
		c.DefaultOrb = overlay.DefaultOrb
	}
	if overlay.Orbs != nil {
		c.Orbs = overlay.Orbs
	}
	if overlay.HouseSystem != "" {
		c.HouseSystem = overlay.HouseSystem
	}
	for id, n := range overlay.MinSentences {
		if c.MinSentences == nil {
			c.MinSentences = make(map[string]int)
		}
		c.MinSentences[id] = n
	}
	return nil
}

// Validate checks that every name resolves and the numbers are usable.
func (c ChartConfig) Validate() error {
	_, err := c.AstrologySettings()
	return err
}

// AstrologySettings converts c into adapter settings.
func (c ChartConfig) AstrologySettings() (astrology.Settings, error) {
	s := astrology.Settings{
		DefaultOrb:  c.DefaultOrb,
		HouseSystem: c.HouseSystem,
		Orbs:        make(map[domain.Body]float64, len(c.Orbs)),
	}
	var err error
	if s.Bodies, err = parseBodies(c.Bodies); err != nil {
		return astrology.Settings{}, err
	}
	if s.AspectPoints, err = parseBodies(c.AspectPoints); err != nil {
		return astrology.Settings{}, err
	}
	for _, name := range c.Aspects {
		k, ok := domain.ParseAspectKind(name)
		if !ok {
			return astrology.Settings{}, fmt.Errorf("unknown aspect %q", name)
		}
		s.AspectKinds = append(s.AspectKinds, k)
	}
	for name, o := range c.Orbs {
		b, ok := domain.ParseBody(name)
		if !ok {
			return astrology.Settings{}, fmt.Errorf("unknown body %q in orbs", name)
		}
		s.Orbs[b] = o
	}
	for id, n := range c.MinSentences {
		if n < 1 {
			return astrology.Settings{}, fmt.Errorf("min_sentences for %q must be >= 1", id)
		}
	}
	if len(s.AspectKinds) == 0 {
		return astrology.Settings{}, errors.New("at least one aspect kind is required")
	}
	if err := s.Validate(); err != nil {
		return astrology.Settings{}, err
	}
	return s, nil
}

// OrchestratorConfig builds the report assembly config for the given message limit.
func (c ChartConfig) OrchestratorConfig(messageLimit int) orchestrator.Config {
	oc := orchestrator.DefaultConfig()
	oc.MessageLimit = messageLimit
	for id, n := range c.MinSentences {
		oc.MinSentences[id] = n
	}
	return oc
}

func parseBodies(names []string) ([]domain.Body, error) {
	out := make([]domain.Body, 0, len(names))
	for _, name := range names {
		b, ok := domain.ParseBody(name)
		if !ok {
			return nil, fmt.Errorf("unknown body %q", name)
		}
		out = append(out, b)
	}
	return out, nil
}
