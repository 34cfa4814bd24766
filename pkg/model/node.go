package model

// Node is a participant of the dependency graph.
// StoreState, RestoreState and AcceptState are called by transactions only.
type Node interface {
	Name() string
	StoreState()
	RestoreState() error
	AcceptState()
}

// Listener is implemented by nodes that react to upstream changes.
// DependencyChanged must only mark state dirty; it must not recompute.
type Listener interface {
	DependencyChanged(source Node) error
}

// Notifier pushes a change of source to its downstream nodes.
type Notifier interface {
	Notify(source Node) error
}

// Source is implemented by nodes that originate changes (parameters, trees).
// The graph binds itself on registration.
type Source interface {
	Bind(n Notifier)
}

// Dependent is implemented by nodes that know their own upstream nodes.
type Dependent interface {
	Node
	Dependencies() []Node
}
