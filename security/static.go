package security

import (
	"context"

	"github.com/dshills/lexgraph/graph/model"
)

// StaticGuard returns a fixed verdict. Used for offline runs and tests.
type StaticGuard struct {
	Secured bool
}

func (g StaticGuard) IsSecured(context.Context, []model.Message) bool { return g.Secured }

// StaticGroundedness returns a fixed verdict.
type StaticGroundedness struct {
	Grounded bool
}

func (g StaticGroundedness) IsGrounded(context.Context, interface{}, string) bool { return g.Grounded }
