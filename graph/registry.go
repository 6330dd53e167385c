// MODUL: registry
// ZWECK: Zentrale Registry fuer Operator-Factories mit Thread-sicherer Verwaltung
// INPUT: Operator-Kind, Factory-Funktionen, Params
// OUTPUT: Operator-Instanzen
// NEBENEFFEKTE: Keine (rein speicherbasiert)
// ABHAENGIGKEITEN: sync (stdlib), node.go (Operator)
// HINWEISE: Reader und Operatoren registrieren sich via init() in DefaultRegistry

package graph

import (
	"errors"
	"slices"
	"sync"
)

// Factory erzeugt einen Operator aus statischen Parametern.
type Factory func(p Params) (Operator, error)

// ErrKindNotRegistered wird zurueckgegeben wenn kein Factory fuer den Kind existiert.
var ErrKindNotRegistered = errors.New("kind not registered")

// ============================================================================
// Registry - Zentrale Operator-Verwaltung
// ============================================================================

// Registry verwaltet registrierte Operator-Factories.
type Registry struct {
	factories map[string]Factory
	mu        sync.RWMutex
}

// NewRegistry erstellt eine neue leere Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register registriert eine Factory unter dem angegebenen Kind.
// Ueberschreibt existierende Eintraege ohne Warnung.
func (r *Registry) Register(kind string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.factories[kind] = factory
}

// Unregister entfernt einen Kind aus der Registry.
// Gibt true zurueck wenn der Kind existierte, sonst false.
func (r *Registry) Unregister(kind string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, exists := r.factories[kind]
	delete(r.factories, kind)
	return exists
}

// Get gibt die Factory fuer den angegebenen Kind zurueck.
func (r *Registry) Get(kind string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, exists := r.factories[kind]
	return factory, exists
}

// Has prueft ob ein Kind registriert ist.
func (r *Registry) Has(kind string) bool {
	_, exists := r.Get(kind)
	return exists
}

// List gibt alle registrierten Kinds sortiert zurueck.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.factories))
	for kind := range r.factories {
		kinds = append(kinds, kind)
	}
	slices.Sort(kinds)
	return kinds
}

// Count gibt die Anzahl registrierter Kinds zurueck.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.factories)
}

// Create erstellt einen Operator mit der registrierten Factory.
func (r *Registry) Create(kind string, p Params) (Operator, error) {
	factory, exists := r.Get(kind)
	if !exists {
		return nil, &RegistryError{Op: "create", Kind: kind, Err: ErrKindNotRegistered}
	}

	op, err := factory(p)
	if err != nil {
		return nil, &RegistryError{Op: "create", Kind: kind, Err: err}
	}
	return op, nil
}

// ============================================================================
// Globale Registry-Instanz
// ============================================================================

// DefaultRegistry ist die globale Registry fuer Operatoren.
var DefaultRegistry = NewRegistry()

// Register registriert eine Factory in der DefaultRegistry.
func Register(kind string, factory Factory) {
	DefaultRegistry.Register(kind, factory)
}

// ============================================================================
// Fehlertypen
// ============================================================================

// RegistryError beschreibt einen Fehler beim Erstellen eines Operators.
type RegistryError struct {
	Op   string // Operation (z.B. "create")
	Kind string // Operator-Kind
	Err  error  // Urspruenglicher Fehler
}

// Error implementiert das error Interface.
func (e *RegistryError) Error() string {
	return "graph: " + e.Op + " kind '" + e.Kind + "': " + e.Err.Error()
}

// Unwrap gibt den urspruenglichen Fehler zurueck.
func (e *RegistryError) Unwrap() error {
	return e.Err
}
