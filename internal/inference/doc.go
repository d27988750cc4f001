// Package inference correlates detection messages with video frames.
//
// The Coordinator owns the detection and video supervisors together with
// their per-generation parsers. Each detection message is logged, filtered
// against the confidence threshold, and numbered from a counter that lives as
// long as the Coordinator. A surviving batch waits on a single publish worker
// for the next decoded frame, bounded by the frame wait timeout, and is then
// published with or without frame bytes. Neither stream reader ever blocks on
// that wait.
package inference
