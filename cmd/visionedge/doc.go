// Package main hosts the visionedge CLI entrypoint and command graph.
//
// The Cobra command tree translates terminal invocations into IPC calls
// against a running daemon: starting and stopping inference sessions, changing
// runtime settings, reading health and the packet journal. The run command
// hosts the daemon in the foreground. Configuration resolution and socket
// discovery live here so subcommands only render results.
package main
