package gpio

import (
	"errors"
	"sync"
	"time"

	"github.com/sweeney/scalextric-sensor/internal/logger"
	"github.com/sweeney/scalextric-sensor/internal/logic"
)

// Self-test timing: a burst at one car's frequency every gap.
const (
	DefaultToneGap   = 2 * time.Second
	DefaultToneBurst = 100 * time.Millisecond
)

// ToneSource simulates every car passing every sensor in turn. Every gap it
// emits a burst of edges at the next car's nominal frequency on all sensors,
// paced in 1 ms steps so the detector sees the train arrive over time.
type ToneSource struct {
	sensors int
	gap     time.Duration
	burst   time.Duration
	clock   func() time.Duration

	mu   sync.Mutex
	next int // index into logic.Cars of the next car to simulate

	stop chan struct{}
	done chan struct{}
}

// NewToneSource creates a self-test source for n sensors.
func NewToneSource(sensors int, gap, burst time.Duration) *ToneSource {
	epoch := time.Now()
	return &ToneSource{
		sensors: sensors,
		gap:     gap,
		burst:   burst,
		clock:   func() time.Duration { return time.Since(epoch) + time.Second },
	}
}

// ToneEdges returns the edge timestamps of a burst at freq starting at start.
func ToneEdges(freq float64, start, duration time.Duration) []time.Duration {
	if freq <= 0 || duration <= 0 {
		return nil
	}
	period := time.Duration(float64(time.Second) / freq)
	n := int(duration / period)
	out := make([]time.Duration, 0, n+1)
	for k := 0; k <= n; k++ {
		out = append(out, start+time.Duration(k)*period)
	}
	return out
}

// NextCar returns the next car to simulate, cycling 1..6.
func (s *ToneSource) NextCar() logic.CarModel {
	s.mu.Lock()
	defer s.mu.Unlock()
	car := logic.Cars[s.next]
	s.next = (s.next + 1) % len(logic.Cars)
	return car
}

// Start launches the burst loop.
func (s *ToneSource) Start(handler EdgeHandler) error {
	if s.stop != nil {
		return errors.New("tone: already started")
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.run(handler)
	return nil
}

func (s *ToneSource) run(handler EdgeHandler) {
	defer close(s.done)
	log := logger.Named("selftest")

	t := time.NewTicker(s.gap)
	defer t.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-t.C:
			car := s.NextCar()
			log.Info().Int("car", car.Number).Float64("freq_hz", car.Frequency).Msg("simulating car")
			if !s.emit(handler, ToneEdges(car.Frequency, s.clock(), s.burst)) {
				return
			}
		}
	}
}

// emit delivers edges once the clock has reached them. It returns false if
// the source was stopped mid-burst.
func (s *ToneSource) emit(handler EdgeHandler, edges []time.Duration) bool {
	step := time.NewTicker(time.Millisecond)
	defer step.Stop()

	k := 0
	for k < len(edges) {
		select {
		case <-s.stop:
			return false
		case <-step.C:
			now := s.clock()
			for ; k < len(edges) && edges[k] <= now; k++ {
				for i := 0; i < s.sensors; i++ {
					handler(i, edges[k])
				}
			}
		}
	}
	return true
}

// Levels reports every simulated line as idle (high).
func (s *ToneSource) Levels() ([]int, error) {
	out := make([]int, s.sensors)
	for i := range out {
		out[i] = 1
	}
	return out, nil
}

// Close stops the burst loop and waits for it to exit.
func (s *ToneSource) Close() error {
	if s.stop == nil {
		return nil
	}
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	<-s.done
	return nil
}
