package stepgraph

// State maps channel names to their current values.
// The same type is used for a node's input and for the delta it returns.
type State map[string]any

// Clone returns a shallow copy of the state.
func (s State) Clone() State {
	if s == nil {
		return nil
	}
	out := make(State, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Get returns the value of a channel as T.
// The boolean is false when the channel is absent or holds another type.
func Get[T any](s State, channel string) (T, bool) {
	v, ok := s[channel].(T)
	return v, ok
}

// GetOr returns the value of a channel as T, or def if unavailable.
func GetOr[T any](s State, channel string, def T) T {
	if v, ok := Get[T](s, channel); ok {
		return v
	}
	return def
}

// ErrorMessage returns the content of the reserved error channel.
func (s State) ErrorMessage() string {
	msg, _ := Get[string](s, ChannelError)
	return msg
}

// Messages returns the run's message log.
func (s State) Messages() []Message {
	msgs, _ := Get[[]Message](s, ChannelMessages)
	return msgs
}
