package procmgr

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/jianglan89/rtp-llm/internal/log"
)

var shutdownSignals = []os.Signal{syscall.SIGTERM, os.Interrupt}

// InstallSignalHandlers routes SIGTERM and SIGINT to GracefulShutdown. The
// returned stop func unregisters the handlers; it is safe to call more than
// once.
func (s *Supervisor) InstallSignalHandlers() (stop func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, shutdownSignals...)

	quit := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case sig := <-ch:
				s.logger.Info().Str(log.FieldSignal, sig.String()).Msg("received signal")
				s.GracefulShutdown()
			case <-quit:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(ch)
			close(quit)
			wg.Wait()
		})
	}
}
