package drowsiness

import (
	"context"
	"fmt"
	"sync"

	"github.com/san-kum/rigwatch/server/eyestate"
	"github.com/san-kum/rigwatch/server/models"
	"github.com/san-kum/rigwatch/server/telemetry"
)

// Source yields raw eye samples for the monitor. Open may block on camera
// permission or model loading; Sample is called once per detection tick.
// A Sample error means "no new observation", never "unsafe".
type Source interface {
	Name() string
	Open(ctx context.Context) error
	Sample(ctx context.Context) (models.EyeSample, error)
	Close() error
}

// Classifier is the liveness classifier boundary the live source polls.
type Classifier interface {
	Connect(ctx context.Context) error
	Detect(ctx context.Context) (models.FaceResult, error)
	Release(ctx context.Context) error
}

type LiveSource struct {
	classifier Classifier
}

func NewLiveSource(c Classifier) *LiveSource {
	return &LiveSource{classifier: c}
}

func (s *LiveSource) Name() string { return "live" }

func (s *LiveSource) Open(ctx context.Context) error {
	if err := s.classifier.Connect(ctx); err != nil {
		return fmt.Errorf("connect classifier: %w", err)
	}
	return nil
}

func (s *LiveSource) Sample(ctx context.Context) (models.EyeSample, error) {
	res, err := s.classifier.Detect(ctx)
	if err != nil {
		return models.EyeSample{}, err
	}
	return eyestate.SampleFromFaces(res), nil
}

func (s *LiveSource) Close() error {
	return s.classifier.Release(context.Background())
}

// SimulatedProfile is the per-frame distribution of the simulated source.
// Probabilities are per Sample call; durations are in frames.
type SimulatedProfile struct {
	AwayProb         float64
	AwayFrames       [2]int
	UnreadableProb   float64
	UnreadableFrames [2]int
	BlinkProb        float64
	BlinkFrames      [2]int
	MicrosleepProb   float64
	MicrosleepFrames [2]int

	OpenRatio   float64
	ClosedRatio float64
	RatioJitter float64
}

// DefaultSimulatedProfile at a 100ms tick: a blink every ~3s, a face loss
// every ~50s lasting 1-4s, and a 2-8s microsleep every ~80s.
func DefaultSimulatedProfile() SimulatedProfile {
	return SimulatedProfile{
		AwayProb:         0.002,
		AwayFrames:       [2]int{10, 40},
		UnreadableProb:   0.01,
		UnreadableFrames: [2]int{1, 3},
		BlinkProb:        0.03,
		BlinkFrames:      [2]int{1, 2},
		MicrosleepProb:   0.00125,
		MicrosleepFrames: [2]int{20, 80},
		OpenRatio:        0.31,
		ClosedRatio:      0.10,
		RatioJitter:      0.03,
	}
}

type episode int

const (
	episodeNone episode = iota
	episodeAway
	episodeUnreadable
	episodeClosed
)

// SimulatedSource fabricates a plausible eye signal from a seeded RNG so
// the dashboard works without a camera.
type SimulatedSource struct {
	profile SimulatedProfile
	noise   *telemetry.Noise

	mu        sync.Mutex
	current   episode
	remaining int
}

func NewSimulatedSource(seed uint64, profile SimulatedProfile) *SimulatedSource {
	return &SimulatedSource{profile: profile, noise: telemetry.NewNoise(seed)}
}

func (s *SimulatedSource) Name() string { return "simulated" }

func (s *SimulatedSource) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current, s.remaining = episodeNone, 0
	return ctx.Err()
}

func (s *SimulatedSource) Close() error { return nil }

func (s *SimulatedSource) Sample(ctx context.Context) (models.EyeSample, error) {
	if err := ctx.Err(); err != nil {
		return models.EyeSample{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.remaining <= 0 {
		s.current = s.roll()
	}
	if s.current != episodeNone {
		s.remaining--
	}

	p := s.profile
	switch s.current {
	case episodeAway:
		return models.EyeSample{}, nil
	case episodeUnreadable:
		return models.EyeSample{FaceDetected: true}, nil
	case episodeClosed:
		return models.EyeSample{
			FaceDetected: true,
			EyesVisible:  true,
			Ratio:        p.ClosedRatio + s.noise.Uniform(p.RatioJitter),
		}, nil
	default:
		return models.EyeSample{
			FaceDetected: true,
			EyesVisible:  true,
			Ratio:        p.OpenRatio + s.noise.Uniform(p.RatioJitter),
		}, nil
	}
}

func (s *SimulatedSource) roll() episode {
	p := s.profile
	r := s.noise.Float64()
	start := func(e episode, span [2]int) episode {
		s.remaining = s.frames(span)
		return e
	}
	switch {
	case r < p.MicrosleepProb:
		return start(episodeClosed, p.MicrosleepFrames)
	case r < p.MicrosleepProb+p.AwayProb:
		return start(episodeAway, p.AwayFrames)
	case r < p.MicrosleepProb+p.AwayProb+p.UnreadableProb:
		return start(episodeUnreadable, p.UnreadableFrames)
	case r < p.MicrosleepProb+p.AwayProb+p.UnreadableProb+p.BlinkProb:
		return start(episodeClosed, p.BlinkFrames)
	}
	s.remaining = 0
	return episodeNone
}

func (s *SimulatedSource) frames(span [2]int) int {
	lo, hi := span[0], span[1]
	if hi <= lo {
		return max(lo, 1)
	}
	return lo + int(s.noise.Float64()*float64(hi-lo+1))
}
