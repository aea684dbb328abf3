package utilities

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/segmentio/ksuid"
)

// ID strategies understood by NewIDGenerator.
const (
	IDStrategyKSUID     = "ksuid"
	IDStrategySnowflake = "snowflake"
)

// IDConfig selects how new record ids are minted.
type IDConfig struct {
	Strategy string `env:"ID_STRATEGY" envDefault:"ksuid"`
	Node     int64  `env:"SNOWFLAKE_NODE" envDefault:"1"`
}

// NewKSUID generates a new globally unique KSUID string.
func NewKSUID() string {
	return ksuid.New().String()
}

// NewIDGenerator returns a function producing opaque string ids. The
// snowflake node is created once and shared across calls.
func NewIDGenerator(cfg IDConfig) (func() string, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Strategy)) {
	case "", IDStrategyKSUID:
		return NewKSUID, nil
	case IDStrategySnowflake:
		node, err := snowflake.NewNode(cfg.Node)
		if err != nil {
			return nil, fmt.Errorf("snowflake node %d: %w", cfg.Node, err)
		}
		return func() string { return node.Generate().String() }, nil
	default:
		return nil, fmt.Errorf("unknown id strategy %q", cfg.Strategy)
	}
}
