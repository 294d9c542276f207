// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

package quicr

import "expvar"

// endpointMetrics record server and client activity counters.
type endpointMetrics struct {
	listens       expvar.Int
	sessionsIn    expvar.Int // sessions accepted by servers
	streamsIn     expvar.Int // streams accepted by servers
	messagesIn    expvar.Int // complete inbound messages delivered by servers
	repliesSent   expvar.Int
	sends         expvar.Int // client sends initiated
	sendsFailed   expvar.Int // client sends reporting an error
	sendsPending  expvar.Int // gauge
	errors        expvar.Int // errors passed to any error channel
	bytesReceived expvar.Int
	bytesSent     expvar.Int

	emap *expvar.Map
}

var rootMetrics = newEndpointMetrics()

func newEndpointMetrics() *endpointMetrics {
	m := &endpointMetrics{emap: new(expvar.Map)}
	m.emap.Set("listens", &m.listens)
	m.emap.Set("sessions_accepted", &m.sessionsIn)
	m.emap.Set("streams_accepted", &m.streamsIn)
	m.emap.Set("messages_received", &m.messagesIn)
	m.emap.Set("replies_sent", &m.repliesSent)
	m.emap.Set("sends", &m.sends)
	m.emap.Set("sends_failed", &m.sendsFailed)
	m.emap.Set("sends_pending", &m.sendsPending)
	m.emap.Set("errors", &m.errors)
	m.emap.Set("bytes_received", &m.bytesReceived)
	m.emap.Set("bytes_sent", &m.bytesSent)
	return m
}
