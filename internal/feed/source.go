package feed

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so poll intervals can be written as "15m" in
// the config file.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Source is the operator-provided configuration for one external feed. It
// is created at configuration time and read by the adapter on each poll
// cycle; the pipeline never mutates it.
type Source struct {
	Name              string   `yaml:"name"`
	URL               string   `yaml:"url"`
	Format            string   `yaml:"format"`
	TokenEnv          string   `yaml:"token_env,omitempty"`
	PollInterval      Duration `yaml:"poll_interval"`
	DefaultConfidence float64  `yaml:"default_confidence"`
	TrustWeight       float64  `yaml:"trust_weight"`
	Tags              []string `yaml:"tags,omitempty"`
}

// Confidence combines the source's default confidence with its trust
// weight, bounded to [0,1]. A record-level confidence, when present,
// overrides the default but is still weighted.
func (s Source) Confidence(recordConfidence float64) float64 {
	c := s.DefaultConfidence
	if recordConfidence > 0 {
		c = recordConfidence
	}
	w := s.TrustWeight
	if w <= 0 || w > 1 {
		w = 1
	}
	c *= w
	if c > 1 {
		return 1
	}
	if c < 0 {
		return 0
	}
	return c
}
