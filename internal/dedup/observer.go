package dedup

// Observer is notified after each group is merged. processed counts groups
// finished so far and total is the number of groups in the run. When the
// merger runs with several workers the callback may be invoked concurrently.
type Observer interface {
	OnGroupProcessed(processed, total int)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(processed, total int)

// OnGroupProcessed calls f.
func (f ObserverFunc) OnGroupProcessed(processed, total int) {
	f(processed, total)
}

type nopObserver struct{}

func (nopObserver) OnGroupProcessed(int, int) {}
