package application

// JobObserver receives lifecycle events of background jobs (segmentation
// and analysis runs). kind is "segmentation" or "analysis".
type JobObserver interface {
	JobStarted(kind string)
	JobFinished(kind string, failed bool)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) JobStarted(string)        {}
func (NopObserver) JobFinished(string, bool) {}

// ObserverOrNop returns o, or NopObserver when o is nil.
func ObserverOrNop(o JobObserver) JobObserver {
	if o == nil {
		return NopObserver{}
	}
	return o
}
