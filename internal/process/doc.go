// Package process supervises one long-running media subprocess.
//
// A Supervisor spawns the configured command with the stream URL substituted
// into its arguments, feeds stdout to a Consumer created fresh for every
// subprocess generation, and tells crashes apart from intentional stops: Stop
// moves the supervisor to Stopped and clears the live handle before any
// signal is sent, so the exit that follows is recognised as deliberate. A
// crash schedules a restart after a fixed delay using a timer, never a
// sleeping goroutine. An optional breaker stops restarting when crashes repeat
// too often inside a window.
package process
