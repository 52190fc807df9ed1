package live

import "github.com/MrWong99/captionsync/pkg/caption"

// enqueueLocked holds seg back for the display delay. Captions leave the
// queue in arrival order; one timer serves the whole queue.
func (c *Client) enqueueLocked(seg caption.Segment) {
	c.queue = append(c.queue, queued{seg: seg, due: c.clock.Now().Add(c.displayDelay)})
	if c.display == nil {
		c.armDisplayLocked()
	}
}

func (c *Client) armDisplayLocked() {
	if len(c.queue) == 0 {
		return
	}
	d := c.queue[0].due.Sub(c.clock.Now())
	if d < 0 {
		d = 0
	}
	p := &pendingTimer{}
	c.display = p
	p.t = c.clock.AfterFunc(d, func() { c.fireDisplay(p) })
}

func (c *Client) fireDisplay(p *pendingTimer) {
	var e effects
	c.mu.Lock()
	if c.display != p {
		c.mu.Unlock()
		return
	}
	c.display = nil
	now := c.clock.Now()
	for len(c.queue) > 0 && !c.queue[0].due.After(now) {
		seg := c.queue[0].seg
		c.queue = c.queue[1:]
		c.store.Append(seg)
		e.captions = append(e.captions, seg)
	}
	c.armDisplayLocked()
	c.mu.Unlock()
	c.deliver(e)
}

// cancelDisplayLocked drops every queued caption and stops the timer.
func (c *Client) cancelDisplayLocked() {
	if c.display != nil {
		c.display.t.Stop()
		c.display = nil
	}
	c.queue = nil
}
