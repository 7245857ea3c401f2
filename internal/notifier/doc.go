// Package notifier delivers announcements to every configured sink.
//
// An announcement is a short operator-facing line (for example a restart
// countdown). Announce always logs the text, waits on a token bucket so
// bursts can't flood the sinks, then sends to each sink with a per-sink
// timeout. One failing sink doesn't stop delivery to the others; failures
// are joined into the returned error.
//
// # Sinks
//
//   - AdapterSink: chats reachable through a transport adapter (Telegram)
//   - WriterSink:  a plain io.Writer (console)
//   - MQTTSink:    a broker topic, JSON payload {"text","at"}
//
// A small in-memory history of recent announcements is kept for status output.
package notifier
