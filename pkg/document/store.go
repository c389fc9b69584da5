package document

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// ErrNotFound is returned when a path does not resolve to a value.
var ErrNotFound = errors.New("path not found")

// Store holds one session's résumé document: a nested mapping of
// sections addressed by dotted paths. A single mutex serializes access;
// tools that perform multi-step mutations use Update so nested path
// operations run under the same critical section.
type Store struct {
	mu  sync.Mutex
	doc map[string]interface{}
}

// NewStore creates an empty document store.
func NewStore() *Store {
	return &Store{doc: map[string]interface{}{}}
}

// Replace swaps the whole document, e.g. after the reader tool parses a
// résumé file. A nil document resets to empty.
func (s *Store) Replace(doc map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc == nil {
		doc = map[string]interface{}{}
	}
	s.doc = doc
}

// Snapshot returns a deep copy of the document.
func (s *Store) Snapshot() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deepCopyMap(s.doc)
}

// IsEmpty reports whether no sections have been loaded.
func (s *Store) IsEmpty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.doc) == 0
}

// MarshalJSON serializes the current document.
func (s *Store) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Snapshot())
}

// GetPath resolves path and returns its value, or ErrNotFound.
func (s *Store) GetPath(path string) (interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return getPath(s.doc, path)
}

// SetPath writes value at path, auto-materializing intermediate object
// and list nodes. Lists are extended with null padding when the index is
// ahead of the current length; they are never shrunk.
func (s *Store) SetPath(path string, value interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return setPath(s.doc, path, value)
}

// DeletePath removes the value at path and returns it, or ErrNotFound.
func (s *Store) DeletePath(path string) (interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deletePath(s.doc, path)
}

// Exists reports whether path resolves to a value.
func (s *Store) Exists(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := getPath(s.doc, path)
	return err == nil
}

// Doc is the unlocked view handed to Update callbacks.
type Doc struct {
	root map[string]interface{}
}

func (d Doc) GetPath(path string) (interface{}, error)     { return getPath(d.root, path) }
func (d Doc) SetPath(path string, value interface{}) error { return setPath(d.root, path, value) }
func (d Doc) DeletePath(path string) (interface{}, error)  { return deletePath(d.root, path) }
func (d Doc) Exists(path string) bool {
	_, err := getPath(d.root, path)
	return err == nil
}

// Update runs fn under the store lock with direct path access, so a tool
// performing several dependent mutations sees and produces a consistent
// document.
func (s *Store) Update(fn func(doc Doc) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(Doc{root: s.doc})
}

func getPath(root map[string]interface{}, path string) (interface{}, error) {
	segments, err := parsePath(path)
	if err != nil {
		return nil, err
	}

	var node interface{} = root
	for _, seg := range segments {
		next, err := descend(node, seg, path)
		if err != nil {
			return nil, err
		}
		node = next
	}
	return node, nil
}

func descend(node interface{}, seg segment, path string) (interface{}, error) {
	if seg.isIndex {
		list, ok := node.([]interface{})
		if !ok {
			return nil, fmt.Errorf("path %q: %w (segment %s is not a list)", path, ErrNotFound, seg)
		}
		idx, ok := resolveIndex(seg.index, len(list))
		if !ok {
			return nil, fmt.Errorf("path %q: %w (index %d out of range)", path, ErrNotFound, seg.index)
		}
		return list[idx], nil
	}

	obj, ok := node.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("path %q: %w (segment %q is not an object)", path, ErrNotFound, seg.key)
	}
	value, ok := obj[seg.key]
	if !ok {
		return nil, fmt.Errorf("path %q: %w (missing key %q)", path, ErrNotFound, seg.key)
	}
	return value, nil
}

func resolveIndex(idx, length int) (int, bool) {
	if idx < 0 {
		idx += length
	}
	if idx < 0 || idx >= length {
		return 0, false
	}
	return idx, true
}

func setPath(root map[string]interface{}, path string, value interface{}) error {
	segments, err := parsePath(path)
	if err != nil {
		return err
	}
	_, err = setSegments(root, segments, value, path)
	return err
}

// setSegments writes value below node and returns the node, which may be
// a reallocated list when padding grew its backing array. Nil nodes are
// materialized as an object or list depending on the leading segment.
func setSegments(node interface{}, segs []segment, value interface{}, path string) (interface{}, error) {
	seg := segs[0]

	if seg.isIndex {
		list, ok := node.([]interface{})
		if !ok {
			if node != nil {
				return nil, fmt.Errorf("path %q: segment %s indexes a non-list", path, seg)
			}
			list = []interface{}{}
		}
		idx := seg.index
		if idx < 0 {
			idx += len(list)
			if idx < 0 {
				return nil, fmt.Errorf("path %q: index %d out of range", path, seg.index)
			}
		}
		for idx >= len(list) {
			list = append(list, nil)
		}
		if len(segs) == 1 {
			list[idx] = value
			return list, nil
		}
		child, err := setSegments(list[idx], segs[1:], value, path)
		if err != nil {
			return nil, err
		}
		list[idx] = child
		return list, nil
	}

	obj, ok := node.(map[string]interface{})
	if !ok {
		if node != nil {
			return nil, fmt.Errorf("path %q: segment %q keys into a non-object", path, seg.key)
		}
		obj = map[string]interface{}{}
	}
	if len(segs) == 1 {
		obj[seg.key] = value
		return obj, nil
	}
	child, err := setSegments(obj[seg.key], segs[1:], value, path)
	if err != nil {
		return nil, err
	}
	obj[seg.key] = child
	return obj, nil
}

func deletePath(root map[string]interface{}, path string) (interface{}, error) {
	segments, err := parsePath(path)
	if err != nil {
		return nil, err
	}

	var node interface{} = root
	for _, seg := range segments[:len(segments)-1] {
		next, err := descend(node, seg, path)
		if err != nil {
			return nil, err
		}
		node = next
	}

	last := segments[len(segments)-1]
	if last.isIndex {
		list, ok := node.([]interface{})
		if !ok {
			return nil, fmt.Errorf("path %q: %w (segment %s is not a list)", path, ErrNotFound, last)
		}
		idx, ok := resolveIndex(last.index, len(list))
		if !ok {
			return nil, fmt.Errorf("path %q: %w (index %d out of range)", path, ErrNotFound, last.index)
		}
		old := list[idx]
		// Deleting a list slot nulls it rather than shifting neighbors,
		// so sibling paths stay stable.
		list[idx] = nil
		return old, nil
	}

	obj, ok := node.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("path %q: %w (segment %q is not an object)", path, ErrNotFound, last.key)
	}
	old, ok := obj[last.key]
	if !ok {
		return nil, fmt.Errorf("path %q: %w (missing key %q)", path, ErrNotFound, last.key)
	}
	delete(obj, last.key)
	return old, nil
}

func deepCopyMap(src map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(src))
	for k, v := range src {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v interface{}) interface{} {
	switch typed := v.(type) {
	case map[string]interface{}:
		return deepCopyMap(typed)
	case []interface{}:
		out := make([]interface{}, len(typed))
		for i, item := range typed {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return v
	}
}
