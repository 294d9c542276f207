// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

// Package quicr implements a minimal request/response messaging layer over a
// stream-multiplexing transport such as QUIC.
//
// A [Server] listens on a passive endpoint. A [Client] sends one message per
// exchange to a server and receives one reply. Each message travels on its own
// bidirectional stream: the sender writes its bytes and closes its side of the
// stream, and the receiver reassembles the chunks it reads into one complete
// message, however the transport happened to split them.
//
// # Events
//
// Listen and Send return an [Events] value, through which the caller learns
// the outcome of the operation. Events has three channels: completion, error,
// and data. A handler attached to a channel after values have arrived on it is
// called with each of those values, in order, so a caller can never miss a
// notification by attaching its handlers late:
//
//	srv := quicr.NewServer(nil)
//	srv.Listen(2345, "localhost").
//	   OnError(func(err error) { log.Printf("listen: %v", err) }).
//	   OnData(func(req *quicr.Request) {
//	      req.Reply.Write(payload.Text("got " + req.Message.String()))
//	   })
//
//	cli := quicr.NewClient(nil)
//	cli.Send(ctx, 2345, "localhost", payload.Text("hello")).
//	   OnData(func(msg payload.Message) { fmt.Println(msg) })
//	cli.Wait()
//
// # Payloads
//
// Outbound content is a [payload.Payload]: raw bytes, text, or a value
// encoded as JSON. Inbound content is a [payload.Message], which is never
// decoded automatically; use its Decode or Unmarshal methods to interpret it.
//
// # Errors
//
// Failures are reported only on the error channel of an Events value, never
// by a panic or a direct return. Errors on the channel have concrete type
// [*Error], whose Class reports the layer at which the failure occurred:
// configuration, server, server session, server stream, client, or client
// stream. Invalid arguments are reported as a ConfigError before any
// transport activity occurs.
//
// # Metrics
//
// Servers and clients share a collection of metrics. Use the Metrics method of
// either to obtain the [expvar.Map] containing them:
//
//   - listens: counter of successful binds
//   - sessions_accepted: counter of sessions accepted by servers
//   - streams_accepted: counter of streams accepted by servers
//   - messages_received: counter of complete messages received by servers
//   - replies_sent: counter of replies written by servers
//   - sends: counter of exchanges started by clients
//   - sends_failed: counter of client exchanges that reported an error
//   - sends_pending: gauge of client exchanges in progress
//   - errors: counter of errors reported on any error channel
//   - bytes_received: counter of message bytes received
//   - bytes_sent: counter of message bytes sent
//
// It is safe for the caller to add entries to the metrics map.
package quicr
