// Package broker implements the job transport: tasks are submitted by name
// with JSON arguments, reserved by workers, and settled as complete, retry
// or fail. Producers poll results by task id.
//
// Four backends share the Broker contract:
//
//   - MemoryBroker: in-process, for tests and single-binary setups.
//   - RedisBroker: list queue with an in-flight list for late acks and a
//     sorted set for delayed retries.
//   - SQLiteStore: a tasks table claimed atomically with UPDATE ... RETURNING.
//   - NATSBroker: a JetStream work-queue stream with results in a KV bucket.
//
// Retry delays are kept by the broker (timers, scores or redelivery delays);
// a worker never sleeps on a task.
//
// Delivery is at least once: a worker that dies mid-task leaves it in flight
// until it is recovered or redelivered.
package broker
