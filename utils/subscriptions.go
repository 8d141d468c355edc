package utils

import "sync"

// Subscription receives the values fired on its Dispatcher. The channel is closed on Unsubscribe.
type Subscription[T any] struct {
	channel    chan T
	dispatcher *Dispatcher[T]
}

// Dispatcher fans values out to subscribers without ever blocking the sender. A subscriber
// that falls behind loses its oldest buffered values, so the newest value always arrives.
type Dispatcher[T any] struct {
	mutex         sync.Mutex
	subscriptions map[*Subscription[T]]struct{}
}

func (d *Dispatcher[T]) Subscribe(capacity int) *Subscription[T] {
	if capacity < 1 {
		capacity = 1
	}

	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.subscriptions == nil {
		d.subscriptions = map[*Subscription[T]]struct{}{}
	}

	subscription := &Subscription[T]{
		channel:    make(chan T, capacity),
		dispatcher: d,
	}
	d.subscriptions[subscription] = struct{}{}

	return subscription
}

func (s *Subscription[T]) Channel() <-chan T {
	return s.channel
}

func (s *Subscription[T]) Unsubscribe() {
	d := s.dispatcher
	if d == nil {
		return
	}

	d.mutex.Lock()
	defer d.mutex.Unlock()

	if _, ok := d.subscriptions[s]; !ok {
		return
	}
	delete(d.subscriptions, s)
	close(s.channel)
}

// Fire delivers data to every subscriber.
func (d *Dispatcher[T]) Fire(data T) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	for s := range d.subscriptions {
		for !trySend(s.channel, data) {
			// full, drop the oldest value
			select {
			case <-s.channel:
			default:
			}
		}
	}
}

func trySend[T any](channel chan T, data T) bool {
	select {
	case channel <- data:
		return true
	default:
		return false
	}
}
