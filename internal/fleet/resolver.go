package fleet

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// resolver is the small local {name_or_id -> id} lookup called out in the
// design notes to replace a monkey-patched name resolver in the vendor SDK:
// try a name match first, then fall back to treating the input as already
// an id. The vendor client is only ever called with raw ids.
type resolver struct {
	shelfNames    *lru.Cache[string, string] // name -> id
	locationNames *lru.Cache[string, string]

	shelfIDNames    map[string]string // id -> name, for diagnostic log formatting
	locationIDNames map[string]string
}

func newResolver(cacheSize int) *resolver {
	if cacheSize <= 0 {
		cacheSize = 256
	}
	shelfNames, _ := lru.New[string, string](cacheSize)
	locationNames, _ := lru.New[string, string](cacheSize)
	return &resolver{
		shelfNames:      shelfNames,
		locationNames:   locationNames,
		shelfIDNames:    make(map[string]string),
		locationIDNames: make(map[string]string),
	}
}

// refreshShelves adds a list_shelves response to the shelf name cache;
// existing entries are not cleared.
func (r *resolver) refreshShelves(shelves []Shelf) {
	for _, s := range shelves {
		if s.Name != "" {
			r.shelfNames.Add(s.Name, s.ID)
		}
		r.shelfIDNames[s.ID] = s.Name
	}
}

// refreshLocations adds a list_locations response to the location name
// cache; existing entries are not cleared.
func (r *resolver) refreshLocations(locations []Location) {
	for _, l := range locations {
		if l.Name != "" {
			r.locationNames.Add(l.Name, l.ID)
		}
		r.locationIDNames[l.ID] = l.Name
	}
}

// resolveShelf tries a name match, then falls back to the input as an id.
func (r *resolver) resolveShelf(nameOrID string) string {
	if id, ok := r.shelfNames.Get(nameOrID); ok {
		return id
	}
	return nameOrID
}

// resolveLocation tries a name match, then falls back to the input as an id.
func (r *resolver) resolveLocation(nameOrID string) string {
	if id, ok := r.locationNames.Get(nameOrID); ok {
		return id
	}
	return nameOrID
}

// shelfName returns the human name for a shelf id, or the id itself when unknown.
func (r *resolver) shelfName(id string) string {
	if name, ok := r.shelfIDNames[id]; ok && name != "" {
		return name
	}
	return id
}

// locationName returns the human name for a location id, or the id itself when unknown.
func (r *resolver) locationName(id string) string {
	if name, ok := r.locationIDNames[id]; ok && name != "" {
		return name
	}
	return id
}
