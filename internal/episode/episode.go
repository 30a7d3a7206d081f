package episode

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind labels who produced a turn. Only model turns count towards the loss.
type Kind int

const (
	KindSystem Kind = iota
	KindUser
	KindModel
)

var kindNames = map[Kind]string{
	KindSystem: "system",
	KindUser:   "user",
	KindModel:  "model",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown turn kind %q", s)
}

func (k Kind) MarshalJSON() ([]byte, error) {
	name, ok := kindNames[k]
	if !ok {
		return nil, fmt.Errorf("unknown turn kind %d", int(k))
	}
	return json.Marshal(name)
}

func (k *Kind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseKind(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Turn is a single labeled utterance.
type Turn struct {
	Utterance string `json:"utterance"`
	Kind      Kind   `json:"kind"`
}

// Episode is one complete training example.
type Episode struct {
	Identifier string `json:"identifier"`
	Turns      []Turn `json:"turns"`
}

var (
	ErrNoTurns     = errors.New("episode has no turns")
	ErrFirstSystem = errors.New("first turn must be a system turn")
)

// Validate checks the structural invariants every emitted episode must hold.
func (e Episode) Validate() error {
	if len(e.Turns) == 0 {
		return ErrNoTurns
	}
	if e.Turns[0].Kind != KindSystem {
		return fmt.Errorf("%s: %w", e.Identifier, ErrFirstSystem)
	}
	return nil
}

// Count returns how many turns of the given kind the episode holds.
func (e Episode) Count(kind Kind) int {
	n := 0
	for _, t := range e.Turns {
		if t.Kind == kind {
			n++
		}
	}
	return n
}
