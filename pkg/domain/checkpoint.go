package domain

import "time"

// Checkpoint represents a snapshot of a chain that can be persisted and resumed.
type Checkpoint struct {
	// ChainID identifies the chain the snapshot belongs to.
	ChainID string `json:"chain_id"`

	// Step is the number of sampler steps completed when the snapshot was taken.
	Step int `json:"step"`

	// Parents and Heights describe the tree, indexed by node number.
	Parents []int     `json:"parents"`
	Heights []float64 `json:"heights"`

	// Parameters holds the flat values of every named parameter.
	Parameters map[string][]float64 `json:"parameters"`

	// Statistics holds the first dimension of every named statistic.
	Statistics map[string]float64 `json:"statistics,omitempty"`

	LogPosterior float64   `json:"log_posterior"`
	SavedAt      time.Time `json:"saved_at"`

	// Sealed holds the encrypted snapshot when the store encrypts at rest. Only
	// ChainID, Step and SavedAt stay readable next to it.
	Sealed []byte `json:"sealed,omitempty"`
}

// Clone returns a deep copy of the checkpoint.
func (c *Checkpoint) Clone() *Checkpoint {
	out := *c
	out.Parents = append([]int(nil), c.Parents...)
	out.Heights = append([]float64(nil), c.Heights...)
	if c.Parameters != nil {
		out.Parameters = make(map[string][]float64, len(c.Parameters))
		for k, v := range c.Parameters {
			out.Parameters[k] = append([]float64(nil), v...)
		}
	}
	if c.Sealed != nil {
		out.Sealed = append([]byte(nil), c.Sealed...)
	}
	if c.Statistics != nil {
		out.Statistics = make(map[string]float64, len(c.Statistics))
		for k, v := range c.Statistics {
			out.Statistics[k] = v
		}
	}
	return &out
}
