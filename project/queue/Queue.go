package queue

import (
	"container/list"
	"sync"

	"autolevel/common/lock"
)

// Queue is a FIFO guarded by a spin lock.
type Queue[T any] struct {
	rows *list.List
	lock sync.Locker
}

func NewQueue[T any]() *Queue[T] {
	self := Queue[T]{}
	self.rows = list.New()
	self.lock = new(lock.SpinLock)
	return &self
}

func (self *Queue[T]) PutNowait(data T) {
	self.lock.Lock()
	defer self.lock.Unlock()
	self.rows.PushBack(data)
}

// GetNowait pops the head. ok is false when the queue is empty.
func (self *Queue[T]) GetNowait() (data T, ok bool) {
	self.lock.Lock()
	defer self.lock.Unlock()
	front := self.rows.Front()
	if front == nil {
		return data, false
	}
	self.rows.Remove(front)
	return front.Value.(T), true
}

func (self *Queue[T]) IsEmpty() bool {
	self.lock.Lock()
	defer self.lock.Unlock()
	return self.rows.Len() == 0
}

func (self *Queue[T]) Len() int {
	self.lock.Lock()
	defer self.lock.Unlock()
	return self.rows.Len()
}

// Clear drops every pending item and returns how many were dropped.
func (self *Queue[T]) Clear() int {
	self.lock.Lock()
	defer self.lock.Unlock()
	n := self.rows.Len()
	self.rows.Init()
	return n
}
