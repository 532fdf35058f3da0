// pkg/kafka/config.go
package kafka

import (
	"fmt"
	"time"

	"github.com/IBM/sarama"
)

// Config содержит параметры Sarama-клиента, не зависящие от сессии.
//
// Version       : строка версии Kafka (например, "2.8.0").
// MaxWait       : сколько Poll ждёт первое сообщение.
// MaxPollRecords: предел сообщений за один Poll.
// Tracing       : оборачивать consumer в otelsarama.
type Config struct {
	Version        string        `mapstructure:"version"`
	ClientID       string        `mapstructure:"client_id"`
	MaxWait        time.Duration `mapstructure:"max_wait"`
	MaxPollRecords int           `mapstructure:"max_poll_records"`
	Tracing        bool          `mapstructure:"tracing"`
}

func (c *Config) applyDefaults() {
	if c.Version == "" {
		c.Version = "2.8.0"
	}
	if c.ClientID == "" {
		c.ClientID = "nodestream"
	}
	if c.MaxWait <= 0 {
		c.MaxWait = 500 * time.Millisecond
	}
	if c.MaxPollRecords <= 0 {
		c.MaxPollRecords = 500
	}
}

func (c Config) validate() error {
	if _, err := sarama.ParseKafkaVersion(c.Version); err != nil {
		return fmt.Errorf("kafka: invalid Version %q: %w", c.Version, err)
	}
	return nil
}

func (c Config) saramaConfig() (*sarama.Config, error) {
	version, err := sarama.ParseKafkaVersion(c.Version)
	if err != nil {
		return nil, fmt.Errorf("kafka: invalid Version %q: %w", c.Version, err)
	}
	sc := sarama.NewConfig()
	sc.Version = version
	sc.ClientID = c.ClientID
	sc.Consumer.Return.Errors = true
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("kafka: sarama config: %w", err)
	}
	return sc, nil
}
