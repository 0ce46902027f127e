// Package mainboilerplate contains shared boilerplate for this project's
// programs. The idea is to provide a selection of narrowly scoped methods
// so callers do not have to buy-in to an all-or-nothing approach.
package mainboilerplate

import (
	"os"
	"os/signal"
	"syscall"

	petname "github.com/dustinkirkland/golang-petname"
	log "github.com/sirupsen/logrus"

	"github.com/rilldb/rill/task"
)

// Version and BuildDate are set at build time via the linker.
var (
	Version   = "development"
	BuildDate = "unknown"
)

// Must logs |msg| at fatal level and exits the process if |err| is
// non-nil, with |extra| fields attached.
func Must(err error, msg string, extra ...interface{}) {
	if err == nil {
		return
	}

	var f = log.Fields{"err": err}
	for i := 0; i+1 < len(extra); i += 2 {
		f[extra[i].(string)] = extra[i+1]
	}
	log.WithFields(f).Fatal(msg)
}

// NodeID returns |id| when set, and otherwise generates a friendly
// two-word identifier for this process.
func NodeID(id string) string {
	if id != "" {
		return id
	}
	return petname.Generate(2, "-")
}

// QueueSignalWatch queues a task which cancels the Group when the process
// receives SIGTERM or SIGINT.
func QueueSignalWatch(tg *task.Group) {
	var signalCh = make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGTERM, syscall.SIGINT)

	tg.Queue("watch signals", func() error {
		select {
		case sig := <-signalCh:
			log.WithField("signal", sig).Info("caught signal; shutting down")
			tg.Cancel()
		case <-tg.Context().Done():
		}
		return nil
	})
}
