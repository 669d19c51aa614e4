package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
)

// IDGenerator mints the identifiers attached to a checkout.
type IDGenerator interface {
	SessionID() string
	EventID() string
	ExternalCode() string
}

// DefaultIDGenerator builds session and event ids as <prefix>_<unix ms>_<random hex>
// and external codes from a snowflake node.
type DefaultIDGenerator struct {
	node *snowflake.Node
	now  func() time.Time
}

func NewIDGenerator(nodeID int64) (*DefaultIDGenerator, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", nodeID, err)
	}
	return &DefaultIDGenerator{node: node, now: time.Now}, nil
}

func (g *DefaultIDGenerator) SessionID() string { return g.prefixed("session") }
func (g *DefaultIDGenerator) EventID() string   { return g.prefixed("evt") }

func (g *DefaultIDGenerator) ExternalCode() string {
	return "sv" + g.node.Generate().Base36()
}

func (g *DefaultIDGenerator) prefixed(prefix string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	return fmt.Sprintf("%s_%d_%s", prefix, g.now().UnixMilli(), suffix)
}
