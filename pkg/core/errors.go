package core

import (
	"fmt"

	"hopper/pkg/types"
)

// TypeMismatchError is returned when an id names an object of another kind.
type TypeMismatchError struct {
	Hash types.Hash
	Want ObjectType
	Got  ObjectType
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("object %s is a %s, not a %s", e.Hash.Short(), e.Got, e.Want)
}
