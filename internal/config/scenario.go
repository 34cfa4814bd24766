package config

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/aretw0/canopy/pkg/domain"
)

// Scenario describes one model: the tree, the tip data, the grouping rule, the
// diffusion and how to sample and persist it.
type Scenario struct {
	Name string `mapstructure:"name"`
	// Tree is a Newick string; its taxa name every per-taxon map below.
	Tree string `mapstructure:"tree"`

	// Values are the per-taxon scalars summed by threshold grouping.
	Values map[string]float64 `mapstructure:"values"`
	// Traits are the per-taxon observations of the diffusion, all of one dimension.
	Traits map[string][]float64 `mapstructure:"traits"`

	Adjacency      Adjacency       `mapstructure:"adjacency"`
	Groups         Groups          `mapstructure:"groups"`
	Contiguity     *Contiguity     `mapstructure:"contiguity"`
	GroupSizePrior *GroupSizePrior `mapstructure:"group_size_prior"`
	Diffusion      Diffusion       `mapstructure:"diffusion"`
	Sampler        Sampler         `mapstructure:"sampler"`
	Checkpoint     Checkpoint      `mapstructure:"checkpoint"`
	Server         Server          `mapstructure:"server"`
}

// Edge joins two adjacent taxa.
type Edge struct {
	A      string  `mapstructure:"a"`
	B      string  `mapstructure:"b"`
	Shared float64 `mapstructure:"shared"`
}

// Adjacency is the spatial layout of the taxa.
type Adjacency struct {
	Edges      []Edge             `mapstructure:"edges"`
	Areas      map[string]float64 `mapstructure:"areas"`
	Perimeters map[string]float64 `mapstructure:"perimeters"`
}

// Groups selects the merge rule.
type Groups struct {
	// Rule is threshold, adjacency or cut-height.
	Rule      string  `mapstructure:"rule"`
	Minimum   float64 `mapstructure:"minimum"`
	CutHeight float64 `mapstructure:"cut_height"`
	MaxSize   float64 `mapstructure:"max_size"`
}

type Contiguity struct {
	Penalty float64 `mapstructure:"penalty"`
}

type GroupSizePrior struct {
	PlateauStart float64 `mapstructure:"plateau_start"`
	PlateauEnd   float64 `mapstructure:"plateau_end"`
	Alpha        float64 `mapstructure:"alpha"`
	Beta         float64 `mapstructure:"beta"`
}

// Diffusion configures the Brownian model of the traits.
type Diffusion struct {
	// Precision is the d x d precision matrix, row-major.
	Precision       []float64 `mapstructure:"precision"`
	PrecisionType   string    `mapstructure:"precision_type"`
	RootMean        []float64 `mapstructure:"root_mean"`
	PriorSampleSize float64   `mapstructure:"prior_sample_size"`
	Normalise       bool      `mapstructure:"normalise"`
	TraitSets       int       `mapstructure:"trait_sets"`
	Seed            uint64    `mapstructure:"seed"`
}

// Sampler configures the chain.
type Sampler struct {
	Steps           int                `mapstructure:"steps"`
	Seed            uint64             `mapstructure:"seed"`
	CheckpointEvery int                `mapstructure:"checkpoint_every"`
	Window          float64            `mapstructure:"window"`
	Operators       map[string]float64 `mapstructure:"operators"`
}

// Checkpoint selects the checkpoint backend.
type Checkpoint struct {
	// Backend is memory, file or redis.
	Backend       string        `mapstructure:"backend"`
	Path          string        `mapstructure:"path"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	TTL           time.Duration `mapstructure:"ttl"`
	Lock          bool          `mapstructure:"lock"`

	// EncryptionKey enables AES-256-GCM at rest. Keys are base64 encoded 32 byte
	// values; FallbackKeys are tried on load during key rotation.
	EncryptionKey string   `mapstructure:"encryption_key"`
	FallbackKeys  []string `mapstructure:"fallback_keys"`
}

type Server struct {
	Addr string `mapstructure:"addr"`
}

// Rule names.
const (
	RuleThreshold = "threshold"
	RuleAdjacency = "adjacency"
	RuleCutHeight = "cut-height"
)

// Operator names accepted in Sampler.Operators.
const (
	OperatorHeightSlide = "height_slide"
	OperatorRandomWalk  = "random_walk"
	OperatorSubtreeJump = "subtree_jump"
	OperatorDescent     = "descent"
)

// Checkpoint backends.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendRedis  = "redis"
)

// Default returns the values applied before decoding.
func Default() Scenario {
	return Scenario{
		Name:   "scenario",
		Groups: Groups{Rule: RuleThreshold},
		Diffusion: Diffusion{
			PrecisionType:   "scalar",
			PriorSampleSize: 1,
			TraitSets:       1,
		},
		Sampler: Sampler{
			Steps:  1000,
			Seed:   1,
			Window: 0.5,
			Operators: map[string]float64{
				OperatorHeightSlide: 1,
			},
		},
		Checkpoint: Checkpoint{Backend: BackendMemory},
		Server:     Server{Addr: ":8080"},
	}
}

// Decode turns a generic map, as produced by YAML or loam frontmatter, into a
// validated Scenario. Unknown keys are rejected.
func Decode(raw map[string]any) (*Scenario, error) {
	s := Default()
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &s,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(raw); err != nil {
		return nil, domain.Configurationf("scenario", "%v", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Parse decodes a YAML scenario.
func Parse(data []byte) (*Scenario, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, domain.Configurationf("scenario", "invalid YAML: %v", err)
	}
	if raw == nil {
		return nil, domain.Configurationf("scenario", "empty document")
	}
	return Decode(raw)
}

// Load reads and decodes a YAML scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario: %w", err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Validate checks what can be checked without building the tree.
func (s *Scenario) Validate() error {
	fail := func(format string, args ...any) error {
		return domain.Configurationf("scenario", format, args...)
	}
	if s.Tree == "" {
		return fail("tree is required")
	}
	switch s.Groups.Rule {
	case RuleThreshold:
		if len(s.Values) == 0 {
			return fail("threshold grouping needs values")
		}
	case RuleAdjacency:
		if len(s.Adjacency.Edges) == 0 {
			return fail("adjacency grouping needs adjacency edges")
		}
	case RuleCutHeight:
		if !(s.Groups.CutHeight >= 0) {
			return fail("cut_height must be non-negative")
		}
	default:
		return fail("unknown grouping rule %q", s.Groups.Rule)
	}
	if s.Contiguity != nil && s.Contiguity.Penalty < 0 {
		return fail("contiguity penalty must be non-negative")
	}
	if s.Contiguity != nil && len(s.Adjacency.Edges) == 0 {
		return fail("contiguity needs adjacency edges")
	}

	d := s.TraitDimension()
	if d < 0 {
		return fail("traits must all have the same dimension")
	}
	if d > 0 {
		k := s.Diffusion.TraitSets
		if k < 1 {
			return fail("trait_sets must be at least 1")
		}
		if d%k != 0 {
			return fail("%d traits do not split into %d trait sets", d, k)
		}
		if k > 1 && s.Diffusion.PrecisionType != "full" {
			return fail("trait_sets needs precision_type full")
		}
		d /= k
		if len(s.Diffusion.Precision) != d*d {
			return fail("precision needs %d entries for %d traits per set, got %d", d*d, d, len(s.Diffusion.Precision))
		}
		if len(s.Diffusion.RootMean) == 0 {
			s.Diffusion.RootMean = make([]float64, d)
		}
		if len(s.Diffusion.RootMean) != d {
			return fail("root_mean needs %d entries, got %d", d, len(s.Diffusion.RootMean))
		}
		if !(s.Diffusion.PriorSampleSize > 0) {
			return fail("prior_sample_size must be positive")
		}
	}

	if s.Sampler.Steps < 0 || s.Sampler.CheckpointEvery < 0 {
		return fail("sampler steps and checkpoint_every must be non-negative")
	}
	if !(s.Sampler.Window > 0) {
		return fail("sampler window must be positive")
	}
	for name, w := range s.Sampler.Operators {
		switch name {
		case OperatorHeightSlide, OperatorRandomWalk, OperatorSubtreeJump, OperatorDescent:
		default:
			return fail("unknown operator %q", name)
		}
		if w < 0 {
			return fail("operator %s has negative weight", name)
		}
	}
	if w := s.Sampler.Operators[OperatorSubtreeJump]; w > 0 && len(s.Adjacency.Edges) == 0 {
		return fail("subtree_jump needs adjacency edges")
	}
	if w := s.Sampler.Operators[OperatorDescent] + s.Sampler.Operators[OperatorRandomWalk]; w > 0 && s.TraitDimension() == 0 {
		return fail("descent and random_walk operate on traits, none given")
	}

	switch s.Checkpoint.Backend {
	case BackendMemory:
	case BackendFile:
		if s.Checkpoint.Path == "" {
			s.Checkpoint.Path = ".canopy/checkpoints"
		}
	case BackendRedis:
		if s.Checkpoint.RedisAddr == "" {
			return fail("redis backend needs redis_addr")
		}
	default:
		return fail("unknown checkpoint backend %q", s.Checkpoint.Backend)
	}
	if s.Checkpoint.EncryptionKey == "" && len(s.Checkpoint.FallbackKeys) > 0 {
		return fail("fallback_keys need an encryption_key")
	}
	return nil
}

// TraitDimension returns the length of the trait vectors, 0 without traits, and -1
// when the vectors differ in length.
func (s *Scenario) TraitDimension() int {
	keys := make([]string, 0, len(s.Traits))
	for k := range s.Traits {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	d := 0
	for _, k := range keys {
		if n := len(s.Traits[k]); n > 0 {
			d = n
			break
		}
	}
	for _, k := range keys {
		if len(s.Traits[k]) != d {
			return -1
		}
	}
	return d
}

// SetDimension returns the diffusion dimension, the trait length of one trait set.
func (s *Scenario) SetDimension() int {
	d := s.TraitDimension()
	if d <= 0 || s.Diffusion.TraitSets <= 1 {
		return d
	}
	return d / s.Diffusion.TraitSets
}

// OperatorNames lists the operators with positive weight in name order.
func (s *Scenario) OperatorNames() []string {
	var names []string
	for name, w := range s.Sampler.Operators {
		if w > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
