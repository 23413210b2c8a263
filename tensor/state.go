package tensor

// State is the heterogeneous bag of per-request auxiliary data threaded
// through a multi-hop request. Keys are caller-defined and opaque to the
// protocol; every hop must carry unknown keys through unchanged and may
// add or replace keys it understands.
type State struct {
	TensorData     map[string]Tensor   `msgpack:"tensor_data" json:"tensor_data"`
	TensorListData map[string][]Tensor `msgpack:"tensor_list_data" json:"tensor_list_data"`
	OtherData      map[string]any      `msgpack:"other_data_json" json:"other_data_json"`
}

func NewState() *State {
	return &State{
		TensorData:     make(map[string]Tensor),
		TensorListData: make(map[string][]Tensor),
		OtherData:      make(map[string]any),
	}
}

func (s *State) Tensor(name string) (Tensor, bool) {
	t, ok := s.TensorData[name]
	return t, ok
}

func (s *State) PutTensor(name string, t Tensor) {
	if s.TensorData == nil {
		s.TensorData = make(map[string]Tensor)
	}
	s.TensorData[name] = t
}

func (s *State) TensorList(name string) ([]Tensor, bool) {
	l, ok := s.TensorListData[name]
	return l, ok
}

// AppendTensor grows the named list by one entry, e.g. one per decoding
// step.
func (s *State) AppendTensor(name string, t Tensor) {
	if s.TensorListData == nil {
		s.TensorListData = make(map[string][]Tensor)
	}
	s.TensorListData[name] = append(s.TensorListData[name], t)
}

// Merge overlays other's entries onto s. Keys present only in s are left
// untouched, which is what gives each hop faithful carry-through of state
// it does not understand.
func (s *State) Merge(other *State) {
	if other == nil {
		return
	}
	for name, t := range other.TensorData {
		s.PutTensor(name, t)
	}
	for name, l := range other.TensorListData {
		if s.TensorListData == nil {
			s.TensorListData = make(map[string][]Tensor)
		}
		s.TensorListData[name] = append([]Tensor(nil), l...)
	}
	for name, v := range other.OtherData {
		if s.OtherData == nil {
			s.OtherData = make(map[string]any)
		}
		s.OtherData[name] = copyValue(v)
	}
}

// Clone deep-copies the state so concurrent hops never alias each other's
// caches.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	out := NewState()
	for name, t := range s.TensorData {
		out.TensorData[name] = t.Clone()
	}
	for name, l := range s.TensorListData {
		cl := make([]Tensor, len(l))
		for i, t := range l {
			cl[i] = t.Clone()
		}
		out.TensorListData[name] = cl
	}
	for name, v := range s.OtherData {
		out.OtherData[name] = copyValue(v)
	}
	return out
}

// copyValue deep-copies the untyped map/array/scalar tree of OtherData.
// The protocol copies this blob but never interprets it.
func copyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(val))
		for k, e := range val {
			m[k] = copyValue(e)
		}
		return m
	case []any:
		l := make([]any, len(val))
		for i, e := range val {
			l[i] = copyValue(e)
		}
		return l
	default:
		return v
	}
}
