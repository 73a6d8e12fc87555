package app

import (
	"testing"

	log "github.com/sirupsen/logrus"
)

func TestInitKafkaProducer_EmptyBrokers(t *testing.T) {
	for _, brokers := range []string{"", " , ,"} {
		cfg := DefaultConfig()
		cfg.KafkaBrokers = brokers

		rt, err := initKafkaProducer(cfg, log.WithField("test", "kafka"))
		if err != nil {
			t.Errorf("expected no error for brokers %q, got %v", brokers, err)
		}
		if rt != nil {
			t.Errorf("expected nil runtime for brokers %q", brokers)
		}
	}
}

func TestInitKafkaProducer_InvalidBrokers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.KafkaBrokers = "broker1:9092, broker2:9092"

	rt, err := initKafkaProducer(cfg, log.WithField("test", "kafka"))
	if err == nil {
		t.Error("expected error for unreachable brokers")
	}
	if rt != nil {
		t.Error("expected nil runtime on error")
	}
}

func TestCloseKafka_Nil(_ *testing.T) {
	// Не должно паниковать
	closeKafka(nil, log.WithField("test", "kafka"))
	closeKafka(&kafkaRuntime{}, log.WithField("test", "kafka"))
}
