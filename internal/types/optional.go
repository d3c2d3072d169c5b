// README: Optional value used where "not mentioned" must differ from a zero value.
package types

import "encoding/json"

// Optional holds a value that may be unset. It marshals to JSON null when unset,
// so an explicit false or 0 survives a round trip.
type Optional[T comparable] struct {
	Value T
	Valid bool
}

func Some[T comparable](v T) Optional[T] {
	return Optional[T]{Value: v, Valid: true}
}

func None[T comparable]() Optional[T] {
	return Optional[T]{}
}

// Get returns the value and whether it is set.
func (o Optional[T]) Get() (T, bool) {
	return o.Value, o.Valid
}

// Or returns the value when set, otherwise def.
func (o Optional[T]) Or(def T) T {
	if o.Valid {
		return o.Value
	}
	return def
}

// Is reports a set value equal to want; used for tri-state flags.
func (o Optional[T]) Is(want T) bool {
	return o.Valid && o.Value == want
}

func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if !o.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(o.Value)
}

func (o *Optional[T]) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*o = Optional[T]{}
		return nil
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*o = Optional[T]{Value: v, Valid: true}
	return nil
}
