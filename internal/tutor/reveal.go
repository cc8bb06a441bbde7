package tutor

import (
	"strings"
	"time"
)

// reveal streams the response to the sink. Short responses animate rune by
// rune, with a longer pause after sentence-ending punctuation; long ones are
// sent whole. A stop or supersession mid-animation flushes the remainder in
// one chunk instead of leaving the message truncated.
func (c *Controller) reveal(requestID, text string) {
	if wordCount(text) > c.cfg.ShortResponseWords {
		c.emit(Event{Type: EventAssistantChunk, Content: text, RequestID: requestID})
		return
	}

	runes := []rune(text)
	for i, r := range runes {
		if c.revealInterrupted(requestID) {
			c.emit(Event{Type: EventAssistantChunk, Content: string(runes[i:]), RequestID: requestID})
			return
		}
		c.emit(Event{Type: EventAssistantChunk, Content: string(r), RequestID: requestID})

		delay := c.cfg.CharDelay
		if sentenceEnd(r) {
			delay += c.cfg.PunctuationDelay
		}
		time.Sleep(delay)
	}
}

// revealInterrupted reports whether the animation should stop: either the
// user pressed stop, or a newer submission took over the session.
func (c *Controller) revealInterrupted(requestID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopRequested || c.pendingRequestID != requestID
}

func sentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '\n':
		return true
	}
	return false
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}
