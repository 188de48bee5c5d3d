// Package feed turns the append-only event log into live streams. The
// notifier wakes tailers the moment a new event lands, and the tailer
// delivers every event after a subscriber's cursor exactly once and in order.
package feed

type subscription struct {
	investigationID string
	wake            chan struct{}
}

// Notifier fans append signals out to every subscriber of an investigation.
// Signals are wake-ups, not payloads; the tailer reads the actual events from
// the log so a slow subscriber can never lose data.
type Notifier struct {
	stopChannel        chan struct{}
	notifyChannel      chan string
	subscribeChannel   chan subscription
	unsubscribeChannel chan subscription
}

func NewNotifier() *Notifier {
	return &Notifier{
		stopChannel:        make(chan struct{}),
		notifyChannel:      make(chan string),
		subscribeChannel:   make(chan subscription),
		unsubscribeChannel: make(chan subscription),
	}
}

// Start listening for notify, subscribe, and unsubscribe events. This function
// blocks until Stop() is called, so it should be called in a goroutine. It does
// not handle panics, so it should be wrapped in a recover.
func (n *Notifier) Start() {
	subscribers := map[string][]subscription{}
	for {
		select {
		case <-n.stopChannel:
			return

		case sub := <-n.subscribeChannel:
			subscribers[sub.investigationID] = append(subscribers[sub.investigationID], sub)

		case sub := <-n.unsubscribeChannel:
			remaining := subscribers[sub.investigationID][:0]
			for _, candidate := range subscribers[sub.investigationID] {
				if candidate.wake != sub.wake {
					remaining = append(remaining, candidate)
				}
			}
			if len(remaining) == 0 {
				delete(subscribers, sub.investigationID)
			} else {
				subscribers[sub.investigationID] = remaining
			}

		case investigationID := <-n.notifyChannel:
			for _, sub := range subscribers[investigationID] {
				// The wake channel has capacity one; a pending wake
				// already covers this signal.
				select {
				case sub.wake <- struct{}{}:
				default:
				}
			}
		}
	}
}

// Stop the goroutine that handles the notifier.
func (n *Notifier) Stop() {
	close(n.stopChannel)
}

// Notify wakes every subscriber of the investigation.
func (n *Notifier) Notify(investigationID string) {
	select {
	case n.notifyChannel <- investigationID:
	case <-n.stopChannel:
	}
}

// Subscribe returns a wake channel for the investigation and an unsubscribe
// function. The caller must call unsubscribe when done.
func (n *Notifier) Subscribe(investigationID string) (<-chan struct{}, func()) {
	sub := subscription{
		investigationID: investigationID,
		wake:            make(chan struct{}, 1),
	}
	select {
	case n.subscribeChannel <- sub:
	case <-n.stopChannel:
		return sub.wake, func() {}
	}
	return sub.wake, func() {
		select {
		case n.unsubscribeChannel <- sub:
		case <-n.stopChannel:
		}
	}
}
