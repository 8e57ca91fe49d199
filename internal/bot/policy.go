package bot

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Policy holds the defaults seeded into a user's BotConfig the first time
// they start the bot.
type Policy struct {
	FollowedPoliticians []string `yaml:"followed_politicians"`
	MinTradeNotional    float64  `yaml:"min_trade_notional"`
	PositionFraction    float64  `yaml:"position_fraction"`
	MaxPositionNotional float64  `yaml:"max_position_notional"`
	Paper               bool     `yaml:"paper"`
}

type policyFile struct {
	Defaults Policy `yaml:"defaults"`
}

// DefaultPolicy mirrors the shipped bot_policy.yaml.
func DefaultPolicy() Policy {
	return Policy{
		FollowedPoliticians: []string{"Nancy Pelosi"},
		MinTradeNotional:    15000,
		PositionFraction:    0.10,
		MaxPositionNotional: 1000,
		Paper:               true,
	}
}

// LoadPolicy reads defaults from a YAML file, falling back to DefaultPolicy
// when the file is absent.
func LoadPolicy(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultPolicy(), nil
	}
	if err != nil {
		return Policy{}, fmt.Errorf("read bot policy: %w", err)
	}

	var file policyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Policy{}, fmt.Errorf("parse bot policy: %w", err)
	}

	p := file.Defaults
	if len(p.FollowedPoliticians) == 0 {
		p.FollowedPoliticians = DefaultPolicy().FollowedPoliticians
	}
	if err := p.validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

func (p Policy) validate() error {
	if p.PositionFraction <= 0 || p.PositionFraction > 1 {
		return fmt.Errorf("bot policy: position_fraction must be in (0, 1], got %v", p.PositionFraction)
	}
	if p.MaxPositionNotional <= 0 {
		return fmt.Errorf("bot policy: max_position_notional must be positive, got %v", p.MaxPositionNotional)
	}
	if p.MinTradeNotional < 0 {
		return fmt.Errorf("bot policy: min_trade_notional must not be negative, got %v", p.MinTradeNotional)
	}
	return nil
}
