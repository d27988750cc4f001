// Package detection decodes the object-detection metadata stream emitted by
// the detection pipeline subprocess.
//
// The stream is line oriented text. A message opens at a header marker, each
// following line contributes a fixed-width trailing slice (payload lines are
// padded), and a zero-filled line closes the message. Parser reassembles
// messages regardless of how stdout reads split the bytes.
package detection
