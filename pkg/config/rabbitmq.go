package config

import (
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"
)

var RabbitMQ *amqp.Connection

const (
	rabbitMaxRetries = 10
	rabbitRetryDelay = 3 * time.Second
)

// InitRabbitMQ dials RabbitMQ with retries and sets RabbitMQ.
func InitRabbitMQ(cfg RabbitMQConfig) (*amqp.Connection, error) {
	url := fmt.Sprintf("amqp://%s:%s@%s:%s/", cfg.User, cfg.Password, cfg.Host, cfg.Port)

	var conn *amqp.Connection
	var err error
	for i := 0; i < rabbitMaxRetries; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			RabbitMQ = conn
			log.WithField("host", cfg.Host).Info("connected to RabbitMQ")
			return conn, nil
		}
		if i < rabbitMaxRetries-1 {
			log.WithError(err).Warnf("failed to connect to RabbitMQ (attempt %d/%d), retrying in %v", i+1, rabbitMaxRetries, rabbitRetryDelay)
			time.Sleep(rabbitRetryDelay)
		}
	}
	return nil, fmt.Errorf("connect to RabbitMQ after %d attempts: %w", rabbitMaxRetries, err)
}

func declareQueue(ch *amqp.Channel, name string) (amqp.Queue, error) {
	return ch.QueueDeclare(
		name,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,   // args
	)
}
