// Package bus carries device-to-device traffic for podium: heartbeats and
// failover handoff messages. Client commands never travel over the bus.
//
// # Backends
//
//   - MemoryBus: in-process, for tests and single-device runs
//   - NATSBus: NATS core pub/sub
//   - RedisBus: Redis PUBLISH/SUBSCRIBE
//   - MQTTBus: any MQTT 3.1.1 broker
//
// All backends share the same channel-based API:
//
//	topics := bus.NewTopics("conference/")
//	sub, _ := b.Subscribe(topics.Heartbeat)
//	for msg := range sub.Messages() {
//	    // decode heartbeat
//	}
//
// Delivery is best effort. A slow subscriber drops messages rather than
// stalling the publisher; the heartbeat protocol tolerates loss because only
// silence longer than the failover timeout matters.
package bus
