package gen

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
)

const (
	PrefixJob              = "job"
	PrefixJobTask          = "job-task"
	PrefixCollector        = "collector"
	PrefixCollectorRule    = "rule"
	PrefixCloudService     = "cloud-svc"
	PrefixCloudServiceType = "cloud-svc-type"
	PrefixRegion           = "region"
	PrefixServer           = "server"
)

var Module = fx.Module("gen", fx.Provide(ProvideGenerator))

// IDGenerator hands out prefixed, roughly time-ordered identifiers.
type IDGenerator interface {
	NewID(prefix string) string
}

type SnowflakeNode struct {
	node *snowflake.Node
}

func NewSnowflakeNode(nodeID int64) (*SnowflakeNode, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("init snowflake node: %w", err)
	}
	return &SnowflakeNode{node: node}, nil
}

func ProvideGenerator() (IDGenerator, error) {
	return NewSnowflakeNode(1)
}

func (s *SnowflakeNode) NewID(prefix string) string {
	return prefix + "-" + s.node.Generate().Base58()
}
