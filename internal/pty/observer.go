package pty

// Observer is notified of process lifecycle events. Implementations must
// not call back into the Session that reported the event.
type Observer interface {
	SessionStarted(key string, pid int, argv []string)
	SessionExited(key string, pid int, exitCode int)
}

// Observers fans each event out to every member in order.
type Observers []Observer

func (o Observers) SessionStarted(key string, pid int, argv []string) {
	for _, ob := range o {
		ob.SessionStarted(key, pid, argv)
	}
}

func (o Observers) SessionExited(key string, pid int, exitCode int) {
	for _, ob := range o {
		ob.SessionExited(key, pid, exitCode)
	}
}

type nopObserver struct{}

func (nopObserver) SessionStarted(string, int, []string) {}
func (nopObserver) SessionExited(string, int, int)       {}
