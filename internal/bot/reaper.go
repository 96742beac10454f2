package bot

import (
	"log"
	"time"
)

// Reaper periodically forgets idle conversation sessions.
type Reaper struct {
	engine   reapable
	stopChan chan struct{}
	ticker   *time.Ticker
	interval time.Duration
	idle     time.Duration
}

type reapable interface {
	Reap(idle time.Duration) int
}

func NewReaper(engine reapable, idle time.Duration) *Reaper {
	interval := idle / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	return &Reaper{
		engine:   engine,
		stopChan: make(chan struct{}),
		interval: interval,
		idle:     idle,
	}
}

func (w *Reaper) Start() {
	if w == nil {
		return
	}
	w.ticker = time.NewTicker(w.interval)
	go w.loop()
}

func (w *Reaper) Stop() {
	if w == nil {
		return
	}
	close(w.stopChan)
	if w.ticker != nil {
		w.ticker.Stop()
	}
}

func (w *Reaper) loop() {
	for {
		select {
		case <-w.ticker.C:
			w.tick()
		case <-w.stopChan:
			return
		}
	}
}

func (w *Reaper) tick() {
	if n := w.engine.Reap(w.idle); n > 0 {
		log.Printf("reaper: dropped %d idle sessions", n)
	}
}
