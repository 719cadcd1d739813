package kafka

import (
	"context"
	"strings"

	ckafka "github.com/confluentinc/confluent-kafka-go/kafka"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"inventory-collector/pkg/config"
)

var Module = fx.Module("kafka",
	fx.Provide(NewProducer),
)

// Producer publishes a keyed message to a topic. Delivery is asynchronous.
type Producer interface {
	Produce(ctx context.Context, topic string, key, value []byte) error
}

type producer struct {
	p *ckafka.Producer
}

type nopProducer struct{}

func (nopProducer) Produce(context.Context, string, []byte, []byte) error { return nil }

// NewProducer connects to KAFKA.ADDR. An empty address yields a producer that drops messages.
func NewProducer(lc fx.Lifecycle, cfg *config.Config) (Producer, error) {
	addrs := strings.TrimSpace(cfg.Kafka.Addrs)
	if addrs == "" {
		zap.L().Info("kafka address not configured, job events disabled")
		return nopProducer{}, nil
	}

	p, err := ckafka.NewProducer(&ckafka.ConfigMap{
		"bootstrap.servers": addrs,
		"client.id":         cfg.AppName,
		"acks":              "all",
	})
	if err != nil {
		return nil, err
	}

	go func() {
		for e := range p.Events() {
			switch ev := e.(type) {
			case *ckafka.Message:
				if ev.TopicPartition.Error != nil {
					zap.L().Error("kafka delivery failed",
						zap.Stringp("topic", ev.TopicPartition.Topic),
						zap.Error(ev.TopicPartition.Error),
					)
				}
			case ckafka.Error:
				zap.L().Warn("kafka producer error", zap.String("code", ev.Code().String()), zap.Error(ev))
			}
		}
	}()

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			if remaining := p.Flush(5000); remaining > 0 {
				zap.L().Warn("kafka producer closed with undelivered messages", zap.Int("remaining", remaining))
			}
			p.Close()
			return nil
		},
	})

	zap.L().Info("kafka producer connected", zap.String("addrs", addrs))
	return &producer{p: p}, nil
}

func (k *producer) Produce(_ context.Context, topic string, key, value []byte) error {
	return k.p.Produce(&ckafka.Message{
		TopicPartition: ckafka.TopicPartition{Topic: &topic, Partition: ckafka.PartitionAny},
		Key:            key,
		Value:          value,
	}, nil)
}
