package schema

import (
	"context"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

// CUEValidator checks values against a CUE constraint, e.g.
//
//	foo: int & >0
//	bar: string & =~"^[a-z]+$"
//
// Fields absent from the constraint are accepted. Nil values are dropped
// before unification, so optional fields are declared with "?".
type CUEValidator struct {
	mu         sync.Mutex
	ctx        *cue.Context
	constraint cue.Value
}

// NewCUEValidator compiles src.
func NewCUEValidator(src string) (*CUEValidator, error) {
	cctx := cuecontext.New()
	v := cctx.CompileString(src)
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("compile validator: %s", errors.Details(err, nil))
	}
	return &CUEValidator{ctx: cctx, constraint: v}, nil
}

// Validate unifies values with the constraint and requires a concrete result.
func (c *CUEValidator) Validate(ctx context.Context, values map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	present := make(map[string]any, len(values))
	for k, v := range values {
		if v != nil {
			present[k] = v
		}
	}
	data := c.ctx.Encode(present)
	if err := data.Err(); err != nil {
		return &ValidationError{Err: err}
	}
	unified := c.constraint.Unify(data)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return &ValidationError{Err: fmt.Errorf("%s", errors.Details(err, nil))}
	}
	return nil
}
