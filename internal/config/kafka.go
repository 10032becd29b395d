package config

import (
	"os"
	"strings"
	"sync"
)

type KafkaConfig struct {
	Brokers           []string
	NotificationTopic string
}

var (
	kafkaConfig *KafkaConfig
	kafkaOnce   sync.Once
)

func LoadKafkaConfig() *KafkaConfig {
	kafkaOnce.Do(func() {
		var brokers []string
		for _, b := range strings.Split(os.Getenv("KAFKA_BROKERS"), ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
		topic := os.Getenv("KAFKA_NOTIFICATION_TOPIC")
		if topic == "" {
			topic = "referral.verification.events"
		}
		kafkaConfig = &KafkaConfig{
			Brokers:           brokers,
			NotificationTopic: topic,
		}
	})
	return kafkaConfig
}
