package worker

import (
	"log"
	"time"

	"github.com/lib/pq"
)

// JobsChannel is the postgres notification channel submissions are
// announced on, so every server instance wakes its dispatcher without
// waiting for the poll ticker.
const JobsChannel = "vac_jobs"

// ListenForJobs subscribes to JobsChannel and wakes the pool on every
// notification. The returned listener should be closed on shutdown.
// The pool works without it; the poll ticker is the fallback.
func ListenForJobs(dsn string, pool *Pool) (*pq.Listener, error) {
	listener := pq.NewListener(dsn, 10*time.Second, time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Println("queue listener:", err)
			}
		})

	if err := listener.Listen(JobsChannel); err != nil {
		listener.Close()
		return nil, err
	}

	go func() {
		for range listener.Notify {
			pool.Wake()
		}
	}()

	return listener, nil
}
