// Package source connects to message brokers and yields telemetry deliveries.
//
// Every broker is adapted to the same pair of interfaces:
//
//   - Source.Next(ctx) blocks for the next Delivery; an error means the
//     connection is unusable and the caller should Close and reopen.
//   - Delivery exposes the raw Body and exactly one settlement: Ack (done),
//     Reject (drop, never redeliver) or Requeue (deliver again).
//
// Broker specifics:
//   - kafka (segmentio/kafka-go): consumer-group reader using FetchMessage and
//     CommitMessages. Ack and Reject commit the offset; Requeue holds the
//     message locally and hands it out again on the next Next call.
//   - amqp (rabbitmq/amqp091-go): durable queue, manual ack with prefetch.
//     Reject is Nack(requeue=false); Requeue is Nack(requeue=true).
//   - mqtt (eclipse/paho.mqtt.golang): persistent session with auto-ack
//     disabled. Ack and Reject acknowledge the packet; Requeue holds it locally
//     like kafka.
//
// Open(ctx, src) dials the broker described by a config.Source.
package source
