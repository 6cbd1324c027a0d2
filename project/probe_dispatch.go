package project

import (
	"sync"

	"autolevel/common/logger"
	"autolevel/project/queue"
)

// BlockSender delivers a block of G-code lines to the controller.
type BlockSender interface {
	SendGcode(block string) error
}

// ProbeCommandDispatcher drip feeds a probe plan: a block is only sent once
// the controller has reported the result of the previous one.
type ProbeCommandDispatcher struct {
	lock     sync.Mutex
	queue    *queue.Queue[string]
	sender   BlockSender
	inFlight bool
	sent     int
}

func NewProbeCommandDispatcher(sender BlockSender) *ProbeCommandDispatcher {
	self := &ProbeCommandDispatcher{}
	self.queue = queue.NewQueue[string]()
	self.sender = sender
	return self
}

// Enqueue replaces any pending work with blocks and sends the first one.
func (self *ProbeCommandDispatcher) Enqueue(blocks []string) error {
	self.lock.Lock()
	defer self.lock.Unlock()
	if dropped := self.queue.Clear(); dropped > 0 {
		logger.Warnf("drip feed: dropped %d blocks of the previous plan", dropped)
	}
	self.inFlight = false
	self.sent = 0
	for _, b := range blocks {
		self.queue.PutNowait(b)
	}
	logger.Debugf("drip feed: queue size %d", self.queue.Len())
	return self.sendNext()
}

// Advance acknowledges the block in flight and sends the next one. It
// returns false when nothing was pending.
func (self *ProbeCommandDispatcher) Advance() (bool, error) {
	self.lock.Lock()
	defer self.lock.Unlock()
	self.inFlight = false
	if self.queue.IsEmpty() {
		logger.Debugf("drip feed: queue empty")
		return false, nil
	}
	return true, self.sendNext()
}

// Cancel drops every pending block. The block already sent, if any, is
// left to finish on the controller.
func (self *ProbeCommandDispatcher) Cancel() int {
	self.lock.Lock()
	defer self.lock.Unlock()
	self.inFlight = false
	return self.queue.Clear()
}

func (self *ProbeCommandDispatcher) Pending() int {
	return self.queue.Len()
}

func (self *ProbeCommandDispatcher) InFlight() bool {
	self.lock.Lock()
	defer self.lock.Unlock()
	return self.inFlight
}

func (self *ProbeCommandDispatcher) Sent() int {
	self.lock.Lock()
	defer self.lock.Unlock()
	return self.sent
}

func (self *ProbeCommandDispatcher) sendNext() error {
	block, ok := self.queue.GetNowait()
	if !ok {
		return nil
	}
	if err := self.sender.SendGcode(block); err != nil {
		self.queue.Clear()
		return err
	}
	self.inFlight = true
	self.sent++
	return nil
}
