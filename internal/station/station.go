// Package station implements an assembly station: bounded per-type zones, a
// fixed recipe, and all-or-nothing assembly of products.
package station

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/devghori1264/aerophoenix/factory-sim/internal/models"
	"github.com/devghori1264/aerophoenix/factory-sim/internal/needs"
)

var (
	ErrUnknownType   = errors.New("no zone for component type")
	ErrZoneFull      = errors.New("zone full")
	ErrInvalidConfig = errors.New("invalid station config")
)

// ZoneConfig declares one storage zone.
type ZoneConfig struct {
	Type     string `yaml:"type"`
	Capacity int    `yaml:"capacity"`
}

// RecipeItem is the quantity of one component type a product needs.
type RecipeItem struct {
	Type     string `yaml:"type"`
	Quantity int    `yaml:"quantity"`
}

// Recipe lists the inputs of one product. Components are taken in recipe
// order.
type Recipe []RecipeItem

// Total is the number of components in one product.
func (r Recipe) Total() int {
	n := 0
	for _, it := range r {
		n += it.Quantity
	}
	return n
}

// Level is the occupancy of one zone.
type Level struct {
	Type     string `json:"type"`
	Count    int    `json:"count"`
	Capacity int    `json:"capacity"`
	Percent  int    `json:"percent"`
	Class    string `json:"class"`
}

type zone struct {
	capacity int
	queue    []models.Component
}

// Station holds the zones of one assembly station. A single mutex guards the
// zone map for both intake and assembly, so a check-then-consume in
// TryAssemble never interleaves with Receive.
type Station struct {
	id     string
	recipe Recipe
	policy needs.Policy
	types  []string
	now    func() time.Time

	mu        sync.Mutex
	zones     map[string]*zone
	assembled int64
}

// ValidID reports whether id can name a station. The id becomes one token of
// a NATS subject, so it may not contain dots, wildcards or whitespace.
func ValidID(id string) bool {
	if id == "" {
		return false
	}
	return !strings.ContainsFunc(id, func(r rune) bool {
		return r == '.' || r == '*' || r == '>' || unicode.IsSpace(r) || unicode.IsControl(r)
	})
}

// New validates the configuration and returns an empty station.
func New(id string, zones []ZoneConfig, recipe Recipe, policy needs.Policy) (*Station, error) {
	if id == "" {
		return nil, fmt.Errorf("station id required: %w", ErrInvalidConfig)
	}
	if !ValidID(id) {
		return nil, fmt.Errorf("station id %q is not a single subject token: %w", id, ErrInvalidConfig)
	}
	if len(zones) == 0 {
		return nil, fmt.Errorf("station %s: no zones: %w", id, ErrInvalidConfig)
	}
	s := &Station{
		id:     id,
		policy: policy,
		now:    time.Now,
		zones:  make(map[string]*zone, len(zones)),
	}
	for _, z := range zones {
		if z.Type == "" || z.Capacity <= 0 {
			return nil, fmt.Errorf("station %s: zone %q capacity %d: %w", id, z.Type, z.Capacity, ErrInvalidConfig)
		}
		if _, dup := s.zones[z.Type]; dup {
			return nil, fmt.Errorf("station %s: duplicate zone %q: %w", id, z.Type, ErrInvalidConfig)
		}
		s.zones[z.Type] = &zone{capacity: z.Capacity}
		s.types = append(s.types, z.Type)
	}
	if len(recipe) == 0 {
		return nil, fmt.Errorf("station %s: empty recipe: %w", id, ErrInvalidConfig)
	}
	seen := make(map[string]bool, len(recipe))
	for _, it := range recipe {
		z, ok := s.zones[it.Type]
		if !ok {
			return nil, fmt.Errorf("station %s: recipe type %q has no zone: %w", id, it.Type, ErrInvalidConfig)
		}
		if seen[it.Type] {
			return nil, fmt.Errorf("station %s: recipe lists %q twice: %w", id, it.Type, ErrInvalidConfig)
		}
		seen[it.Type] = true
		if it.Quantity <= 0 || it.Quantity > z.capacity {
			return nil, fmt.Errorf("station %s: recipe quantity %d for %q: %w", id, it.Quantity, it.Type, ErrInvalidConfig)
		}
	}
	s.recipe = append(Recipe(nil), recipe...)
	return s, nil
}

// ID returns the station id.
func (s *Station) ID() string { return s.id }

// Recipe returns a copy of the recipe.
func (s *Station) Recipe() Recipe {
	return append(Recipe(nil), s.recipe...)
}

// Policy returns the classification thresholds used for level reports.
func (s *Station) Policy() needs.Policy { return s.policy }

// Receive appends c to the zone of its type.
func (s *Station) Receive(c models.Component) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	z, ok := s.zones[c.Type]
	if !ok {
		return fmt.Errorf("%s: %w", c.Type, ErrUnknownType)
	}
	if len(z.queue) >= z.capacity {
		return fmt.Errorf("%s: %w", c.Type, ErrZoneFull)
	}
	z.queue = append(z.queue, c)
	return nil
}

// TryAssemble builds one product if every recipe entry is satisfied. When any
// type is short nothing is consumed. Within a type the oldest components are
// used first.
func (s *Station) TryAssemble() (models.Product, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, it := range s.recipe {
		if len(s.zones[it.Type].queue) < it.Quantity {
			return models.Product{}, false
		}
	}

	s.assembled++
	p := models.Product{
		ID:            fmt.Sprintf("%s-P%d", s.id, s.assembled),
		StationID:     s.id,
		Components:    make([]models.Component, 0, s.recipe.Total()),
		RequiredCount: s.recipe.Total(),
		AssembledAt:   s.now().UTC(),
	}
	for _, it := range s.recipe {
		z := s.zones[it.Type]
		p.Components = append(p.Components, z.queue[:it.Quantity]...)
		rest := make([]models.Component, len(z.queue)-it.Quantity, z.capacity)
		copy(rest, z.queue[it.Quantity:])
		z.queue = rest
	}
	return p, true
}

// Resume moves the product counter past every product of this station in
// products, so a station reopening an existing ledger never reuses an id.
func (s *Station) Resume(products []models.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := s.id + "-P"
	for _, p := range products {
		if p.StationID != s.id {
			continue
		}
		seq, ok := strings.CutPrefix(p.ID, prefix)
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(seq, 10, 64)
		if err == nil && n > s.assembled {
			s.assembled = n
		}
	}
}

// Assembled returns the sequence number of the last product built, including
// products resumed from an earlier run.
func (s *Station) Assembled() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.assembled
}

// Occupancy returns the component count per zone.
func (s *Station) Occupancy() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.zones))
	for typ, z := range s.zones {
		out[typ] = len(z.queue)
	}
	return out
}

// Levels returns every zone's occupancy in configuration order, classified
// with the station's policy.
func (s *Station) Levels() []Level {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Level, 0, len(s.types))
	for _, typ := range s.types {
		z := s.zones[typ]
		pct := needs.Percent(len(z.queue), z.capacity)
		out = append(out, Level{
			Type:     typ,
			Count:    len(z.queue),
			Capacity: z.capacity,
			Percent:  pct,
			Class:    s.policy.Classify(pct).String(),
		})
	}
	return out
}
