package stepgraph

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"

	"github.com/randalmurphal/stepgraph/pkg/stepgraph/serde"
)

// Reducer is the merge rule a channel applies when a delta is folded in.
type Reducer int

const (
	// ReduceOverwrite replaces the current value.
	ReduceOverwrite Reducer = iota
	// ReduceAppend concatenates the delta to the current sequence.
	ReduceAppend
)

// String returns the reducer name.
func (r Reducer) String() string {
	switch r {
	case ReduceOverwrite:
		return "overwrite"
	case ReduceAppend:
		return "append"
	default:
		return fmt.Sprintf("reducer(%d)", int(r))
	}
}

// Reserved channel names declared by every schema.
const (
	// ChannelError carries a domain error recorded by a node.
	// A non-empty value after a merge interrupts the run.
	ChannelError = "error"
	// ChannelMessages is the run's append-only message log.
	ChannelMessages = "messages"
)

// Message is one entry of the run's message log.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Node    string `json:"node,omitempty"`
}

// Channel declares a named state slot, its value type and its reducer.
// Build channels with Overwrite or Append.
type Channel struct {
	name     string
	reducer  Reducer
	typeName string
	merge    func(current, delta any) (any, error)
	decode   func(raw []byte) (any, error)
	zero     func() any
	since    func(before, after any) any
}

// Name returns the channel name.
func (c Channel) Name() string { return c.name }

// Reducer returns the channel's merge rule.
func (c Channel) Reducer() Reducer { return c.reducer }

// Overwrite declares a channel whose new value replaces the old one.
func Overwrite[T any](name string) Channel {
	typeName := reflect.TypeFor[T]().String()
	return Channel{
		name:     name,
		reducer:  ReduceOverwrite,
		typeName: typeName,
		merge: func(_, delta any) (any, error) {
			if delta == nil {
				var zero T
				return zero, nil
			}
			v, ok := delta.(T)
			if !ok {
				return nil, &ChannelTypeError{Channel: name, Want: typeName, Got: fmt.Sprintf("%T", delta)}
			}
			return v, nil
		},
		decode: func(raw []byte) (any, error) {
			return serde.Decode[T](raw)
		},
		zero: func() any {
			var zero T
			return zero
		},
		since: func(_, after any) any {
			return after
		},
	}
}

// Append declares a channel holding a []T. A delta may carry a single T or
// a []T; items are concatenated in order without deduplication.
func Append[T any](name string) Channel {
	typeName := reflect.TypeFor[[]T]().String()
	return Channel{
		name:     name,
		reducer:  ReduceAppend,
		typeName: typeName,
		merge: func(current, delta any) (any, error) {
			cur, _ := current.([]T)
			var add []T
			switch d := delta.(type) {
			case nil:
			case []T:
				add = d
			case T:
				add = []T{d}
			default:
				return nil, &ChannelTypeError{Channel: name, Want: typeName, Got: fmt.Sprintf("%T", delta)}
			}
			out := make([]T, 0, len(cur)+len(add))
			out = append(out, cur...)
			return append(out, add...), nil
		},
		decode: func(raw []byte) (any, error) {
			v, err := serde.Decode[[]T](raw)
			if v == nil {
				v = []T{}
			}
			return v, err
		},
		zero: func() any {
			return []T{}
		},
		since: func(before, after any) any {
			b, _ := before.([]T)
			a, _ := after.([]T)
			if len(a) <= len(b) {
				return []T{}
			}
			out := make([]T, len(a)-len(b))
			copy(out, a[len(b):])
			return out
		},
	}
}

// Schema is the fixed set of channels a graph's state may contain.
// It is immutable after NewSchema returns and safe for concurrent use.
type Schema struct {
	channels map[string]Channel
	names    []string
}

// NewSchema declares the state channels of a graph.
// The reserved "error" and "messages" channels are always present.
//
// Panics on an empty or duplicate channel name, or if a reserved channel is
// redeclared with a different reducer.
func NewSchema(channels ...Channel) *Schema {
	s := &Schema{channels: make(map[string]Channel, len(channels)+2)}

	for _, ch := range channels {
		if ch.name == "" {
			panic("stepgraph: channel name cannot be empty")
		}
		if ch.merge == nil {
			panic(fmt.Sprintf("stepgraph: channel %s was not built with Overwrite or Append", ch.name))
		}
		if _, exists := s.channels[ch.name]; exists {
			panic(fmt.Sprintf("stepgraph: duplicate channel: %s", ch.name))
		}
		s.channels[ch.name] = ch
	}

	for _, reserved := range []Channel{Overwrite[string](ChannelError), Append[Message](ChannelMessages)} {
		existing, ok := s.channels[reserved.name]
		if !ok {
			s.channels[reserved.name] = reserved
			continue
		}
		if existing.reducer != reserved.reducer || existing.typeName != reserved.typeName {
			panic(fmt.Sprintf("stepgraph: reserved channel %s must be %s %s", reserved.name, reserved.reducer, reserved.typeName))
		}
	}

	s.names = make([]string, 0, len(s.channels))
	for name := range s.channels {
		s.names = append(s.names, name)
	}
	sort.Strings(s.names)
	return s
}

// Names returns the declared channel names in sorted order.
func (s *Schema) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Channel returns the declaration for name.
func (s *Schema) Channel(name string) (Channel, bool) {
	ch, ok := s.channels[name]
	return ch, ok
}

// Merge folds delta into current and returns the new state.
// Neither input is modified. Channels absent from delta carry over.
func (s *Schema) Merge(current, delta State) (State, error) {
	keys := make([]string, 0, len(delta))
	for k := range delta {
		if _, ok := s.channels[k]; !ok {
			return nil, &UnknownChannelError{Channel: k}
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	next := current.Clone()
	if next == nil {
		next = make(State, len(delta))
	}
	for _, k := range keys {
		merged, err := s.channels[k].merge(next[k], delta[k])
		if err != nil {
			return nil, err
		}
		next[k] = merged
	}
	return next, nil
}

// Initial builds a fresh state holding every channel's zero value with
// input merged on top.
func (s *Schema) Initial(input State) (State, error) {
	base := make(State, len(s.channels))
	for name, ch := range s.channels {
		base[name] = ch.zero()
	}
	return s.Merge(base, input)
}

// Encode serializes each channel present in state.
func (s *Schema) Encode(state State) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(state))
	for k, v := range state {
		if _, ok := s.channels[k]; !ok {
			return nil, &UnknownChannelError{Channel: k}
		}
		raw, err := serde.Raw(v)
		if err != nil {
			return nil, fmt.Errorf("%w: channel %s: %v", ErrSerializeState, k, err)
		}
		out[k] = raw
	}
	return out, nil
}

// Decode restores the channels present in values to their declared types.
func (s *Schema) Decode(values map[string]json.RawMessage) (State, error) {
	out := make(State, len(values))
	for k, raw := range values {
		ch, ok := s.channels[k]
		if !ok {
			return nil, &UnknownChannelError{Channel: k}
		}
		v, err := ch.decode(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: channel %s: %v", ErrDeserializeState, k, err)
		}
		out[k] = v
	}
	return out, nil
}

// shared returns the channel names declared by both schemas with the same
// reducer and type.
func (s *Schema) shared(other *Schema) []string {
	var names []string
	for _, name := range s.names {
		theirs, ok := other.channels[name]
		if !ok {
			continue
		}
		ours := s.channels[name]
		if ours.reducer == theirs.reducer && ours.typeName == theirs.typeName {
			names = append(names, name)
		}
	}
	return names
}

// diff returns, for each named channel, the part of after that is new
// relative to before: the full value of an overwrite channel and only the
// appended tail of an append channel.
func (s *Schema) diff(before, after State, names []string) State {
	out := make(State, len(names))
	for _, name := range names {
		ch, ok := s.channels[name]
		if !ok {
			continue
		}
		out[name] = ch.since(before[name], after[name])
	}
	return out
}

// encodeDelta serializes a delta into a single JSON document.
func (s *Schema) encodeDelta(delta State) (string, error) {
	values, err := s.Encode(delta)
	if err != nil {
		return "", err
	}
	data, err := serde.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSerializeState, err)
	}
	return string(data), nil
}

// decodeDelta restores a delta written by encodeDelta.
func (s *Schema) decodeDelta(doc string) (State, error) {
	var values map[string]json.RawMessage
	if err := serde.Unmarshal([]byte(doc), &values); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeserializeState, err)
	}
	return s.Decode(values)
}
