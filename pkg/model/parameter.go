package model

import "github.com/aretw0/canopy/pkg/domain"

// Vector is the indexed parameter abstraction consumed by models and gradients.
type Vector interface {
	Node
	Dimension() int
	Value(i int) float64
	Values() []float64
	// Set updates one coordinate and notifies dependents.
	Set(i int, v float64) error
	// SetQuietly updates one coordinate without notifying; call FireChanged afterwards.
	SetQuietly(i int, v float64)
	FireChanged() error
}

// Parameter is a named vector of reals. It is a graph source: changes are pushed to
// dependents through the notifier bound at registration.
type Parameter struct {
	name      string
	values    []float64
	stored    []float64
	hasStored bool
	notifier  Notifier
}

var _ Vector = (*Parameter)(nil)

// NewParameter creates a parameter holding a copy of values.
func NewParameter(name string, values ...float64) *Parameter {
	return &Parameter{
		name:   name,
		values: append([]float64(nil), values...),
	}
}

func (p *Parameter) Name() string                { return p.name }
func (p *Parameter) Dimension() int              { return len(p.values) }
func (p *Parameter) Value(i int) float64         { return p.values[i] }
func (p *Parameter) Bind(n Notifier)             { p.notifier = n }
func (p *Parameter) SetQuietly(i int, v float64) { p.values[i] = v }

// Values returns a copy of all coordinates.
func (p *Parameter) Values() []float64 {
	return append([]float64(nil), p.values...)
}

func (p *Parameter) Set(i int, v float64) error {
	p.values[i] = v
	return p.FireChanged()
}

// SetAll replaces every coordinate and notifies once.
func (p *Parameter) SetAll(values []float64) error {
	if len(values) != len(p.values) {
		return domain.Configurationf("set", "%s: expected %d values, got %d", p.name, len(p.values), len(values))
	}
	copy(p.values, values)
	return p.FireChanged()
}

func (p *Parameter) FireChanged() error {
	if p.notifier == nil {
		return nil
	}
	return p.notifier.Notify(p)
}

func (p *Parameter) StoreState() {
	p.stored = append(p.stored[:0], p.values...)
	p.hasStored = true
}

func (p *Parameter) RestoreState() error {
	if !p.hasStored {
		return domain.Protocolf("restore", "%s: restore without a prior store", p.name)
	}
	copy(p.values, p.stored)
	p.hasStored = false
	return nil
}

func (p *Parameter) AcceptState() { p.hasStored = false }

// MatrixParameter is a rows x cols parameter stored column-major, so column j holds
// the trait vector of taxon j.
type MatrixParameter struct {
	Parameter
	rows, cols int
}

// NewMatrixParameter creates a matrix parameter from column-major values.
func NewMatrixParameter(name string, rows, cols int, values []float64) (*MatrixParameter, error) {
	if rows <= 0 || cols <= 0 || len(values) != rows*cols {
		return nil, domain.Configurationf("matrix", "%s: %d values do not fill a %dx%d matrix", name, len(values), rows, cols)
	}
	return &MatrixParameter{
		Parameter: Parameter{name: name, values: append([]float64(nil), values...)},
		rows:      rows,
		cols:      cols,
	}, nil
}

func (m *MatrixParameter) Rows() int { return m.rows }
func (m *MatrixParameter) Cols() int { return m.cols }

// At returns the value at (row, col).
func (m *MatrixParameter) At(row, col int) float64 {
	return m.values[col*m.rows+row]
}

// Column returns a copy of column col.
func (m *MatrixParameter) Column(col int) []float64 {
	return append([]float64(nil), m.values[col*m.rows:(col+1)*m.rows]...)
}

// Bind overrides the embedded Parameter so the notifier reports the matrix itself.
func (m *MatrixParameter) Bind(n Notifier) { m.notifier = matrixNotifier{n, m} }

type matrixNotifier struct {
	Notifier
	m *MatrixParameter
}

func (mn matrixNotifier) Notify(Node) error { return mn.Notifier.Notify(mn.m) }
