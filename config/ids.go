package config

import (
	"strconv"

	"github.com/google/uuid"
)

// idNamespace scopes the deterministic v5 UUIDs this package generates so
// two different kinds of entity (a rule vs a route) never collide even if
// given the same positional seed.
var idNamespace = uuid.MustParse("6f6e6f72-6573-4f70-726f-787943636f72")

// stableID deterministically derives an id from the entity's position in
// its declared parent scope when the document didn't supply one. Because
// it is a pure function of (kind, parent, index), re-validating the same
// document twice yields the same ids, satisfying the
// validate(serialize(validate(x))) == validate(x) round-trip property.
func stableID(kind, parent string, index int) string {
	seed := kind + "/" + parent + "/" + strconv.Itoa(index)
	return uuid.NewSHA1(idNamespace, []byte(seed)).String()
}
