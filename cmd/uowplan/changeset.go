package main

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/syssam/uow"
	"github.com/syssam/uow/schema"
	"github.com/syssam/uow/session"
	"github.com/syssam/uow/tracker"
)

type (
	// changeSet is the YAML description of the objects of a unit of work.
	changeSet struct {
		Objects []changeObject `yaml:"objects"`
	}
	// changeObject is one entity object. Values hold its stored state for
	// objects loaded from storage and its initial state for added ones.
	// Changes are applied after loading, Refs name other objects of the
	// set by their ID, keyed by reference navigation.
	changeObject struct {
		ID      string            `yaml:"id"`
		Type    string            `yaml:"type"`
		State   string            `yaml:"state"`
		Values  map[string]any    `yaml:"values"`
		Changes map[string]any    `yaml:"changes"`
		Refs    map[string]string `yaml:"refs"`
	}
)

// object is a decoded change object with its record.
type object struct {
	changeObject
	state  uow.State
	record *tracker.Record
}

func readChangeSet(path string) ([]*object, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open change set: %w", err)
	}
	defer f.Close()
	objects, err := decodeChangeSet(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return objects, nil
}

func decodeChangeSet(r io.Reader) ([]*object, error) {
	var cs changeSet
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cs); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode change set: %w", err)
	}
	byID := make(map[string]*object, len(cs.Objects))
	objects := make([]*object, 0, len(cs.Objects))
	for i, co := range cs.Objects {
		if co.ID == "" {
			co.ID = fmt.Sprintf("#%d", i)
		}
		if _, ok := byID[co.ID]; ok {
			return nil, fmt.Errorf("object %s: duplicate id", co.ID)
		}
		state := uow.Added
		if co.State != "" {
			s, ok := uow.ParseState(co.State)
			if !ok || s == uow.Detached {
				return nil, fmt.Errorf("object %s: invalid state %q", co.ID, co.State)
			}
			state = s
		}
		if len(co.Changes) > 0 && state != uow.Modified {
			return nil, fmt.Errorf("object %s: changes require state modified", co.ID)
		}
		o := &object{changeObject: co, state: state, record: tracker.NewRecord(co.Type, co.Values)}
		byID[co.ID] = o
		objects = append(objects, o)
	}
	for _, o := range objects {
		for nav, id := range o.Refs {
			p, ok := byID[id]
			if !ok {
				return nil, fmt.Errorf("object %s: reference %s to unknown object %q", o.ID, nav, id)
			}
			o.record.SetRef(nav, p.record)
		}
	}
	return objects, nil
}

// loaded reports whether the object exists in storage before the save.
func (o *object) loaded() bool { return o.state != uow.Added }

// track registers the objects with s. Loaded objects are attached first,
// in file order, and seed is called with each of them before its changes
// are applied. Added objects follow.
func track(s *session.Scope, objects []*object, seed func(*schema.EntityType, map[string]any) error) error {
	for _, o := range objects {
		if !o.loaded() {
			continue
		}
		e, err := s.Attach(o.record)
		if err != nil {
			return fmt.Errorf("object %s: %w", o.ID, err)
		}
		if e.State() != uow.Unchanged {
			return fmt.Errorf("object %s: %s object has no key", o.ID, o.State)
		}
		if seed != nil {
			if err := seed(e.Type(), e.CurrentValues()); err != nil {
				return fmt.Errorf("object %s: %w", o.ID, err)
			}
		}
		switch o.state {
		case uow.Modified:
			if len(o.Changes) == 0 {
				err = e.SetState(uow.Modified)
			}
			for name, v := range o.Changes {
				if err == nil {
					err = e.SetCurrentValue(name, v)
				}
			}
			if err != nil {
				return fmt.Errorf("object %s: %w", o.ID, err)
			}
		case uow.Deleted:
			if err := s.Remove(o.record); err != nil {
				return fmt.Errorf("object %s: %w", o.ID, err)
			}
		}
	}
	for _, o := range objects {
		if o.loaded() {
			continue
		}
		if _, err := s.Add(o.record); err != nil {
			return fmt.Errorf("object %s: %w", o.ID, err)
		}
	}
	return nil
}
