package alarm

import (
	"math"
	"time"
)

const (
	DefaultSampleRate = 44100
	DefaultFrequency  = 800
	DefaultToneLength = 200 * time.Millisecond
	DefaultPeriod     = 500 * time.Millisecond
	DefaultVolume     = 0.6

	// rampLength fades each tone in and out to avoid clicks.
	rampLength = 5 * time.Millisecond
)

type Config struct {
	SampleRate int
	Frequency  float64
	ToneLength time.Duration
	Period     time.Duration
	Volume     float64
}

func DefaultConfig() Config {
	return Config{
		SampleRate: DefaultSampleRate,
		Frequency:  DefaultFrequency,
		ToneLength: DefaultToneLength,
		Period:     DefaultPeriod,
		Volume:     DefaultVolume,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SampleRate <= 0 {
		c.SampleRate = d.SampleRate
	}
	if c.Frequency <= 0 {
		c.Frequency = d.Frequency
	}
	if c.ToneLength <= 0 {
		c.ToneLength = d.ToneLength
	}
	if c.Period <= 0 {
		c.Period = d.Period
	}
	if c.Volume <= 0 || c.Volume > 1 {
		c.Volume = d.Volume
	}
	return c
}

// GenerateTone renders a mono 16-bit sine burst.
func GenerateTone(sampleRate int, freq float64, length time.Duration, volume float64) []int16 {
	n := int(float64(sampleRate) * length.Seconds())
	ramp := int(float64(sampleRate) * rampLength.Seconds())
	if ramp*2 > n {
		ramp = n / 2
	}
	samples := make([]int16, n)
	for i := 0; i < n; i++ {
		t := float64(i) / float64(sampleRate)
		env := 1.0
		switch {
		case i < ramp:
			env = float64(i) / float64(ramp)
		case i >= n-ramp:
			env = float64(n-1-i) / float64(ramp)
		}
		samples[i] = int16(math.Sin(2*math.Pi*freq*t) * 32767 * volume * env)
	}
	return samples
}
