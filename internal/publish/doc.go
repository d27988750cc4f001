// Package publish holds the sinks behind the inference topic.
//
// Every sink implements inference.Publisher. Fanout delivers one packet to
// each configured sink and reports partial failures without stopping at the
// first one. Hub keeps a bounded, cursor-addressed buffer of recent packets
// which the websocket Feed streams to live clients.
package publish
