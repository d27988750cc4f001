package inference

// PendingFrameWaiters exposes the number of batches waiting for a frame.
func (c *Coordinator) PendingFrameWaiters() int { return c.frames.pending() }
