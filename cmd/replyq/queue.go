package main

import (
	"fmt"

	"github.com/replyq/replyq/queue"
	queueinmem "github.com/replyq/replyq/queue/inmem"
	queuekafka "github.com/replyq/replyq/queue/kafka"
)

func parseQueue(name, dsn, topic string) (queue.Queue, error) {
	switch name {
	case "inmem":
		return queueinmem.New(), nil
	case "kafka":
		// the DSN is a comma-separated broker list.
		return queuekafka.New(queuekafka.Config{
			Brokers: dsn,
			Topic:   topic,
		})
	}
	return nil, fmt.Errorf("unknown queue: %s", name)
}
