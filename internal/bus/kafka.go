package bus

import (
	"github.com/IBM/sarama"
)

// NewSaramaConfig builds the shared sarama configuration. Producers wait
// for full ISR acknowledgment so a publish that returns nil is durable;
// consumers start at the newest offset and commit only marked messages.
func NewSaramaConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Version = sarama.V2_8_0_0

	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 3
	config.Producer.Return.Successes = true

	config.Consumer.Return.Errors = true
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{
		sarama.NewBalanceStrategyRoundRobin(),
	}

	return config
}
