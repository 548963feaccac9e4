package dispatch

import (
	"context"
	"sort"

	"github.com/samber/oops"
	"github.com/tsarna/actionsocket/pkg/actionsocket/action"
	"github.com/tsarna/actionsocket/pkg/actionsocket/coerce"
	"github.com/tsarna/actionsocket/pkg/actionsocket/failure"
	"golang.org/x/sync/errgroup"
)

type resolved struct {
	index int
	value any
}

// Resolve computes the arguments of one invocation of a. Parameters are
// resolved concurrently and returned in ascending index order. The first
// failure aborts the whole set.
func (d *Dispatcher) Resolve(ctx context.Context, a *action.Descriptor, inv action.Invocation) (action.Args, error) {
	results := make([]resolved, len(a.Parameters))

	g, gctx := errgroup.WithContext(ctx)
	for i := range a.Parameters {
		p := &a.Parameters[i]
		g.Go(func() error {
			v, err := d.resolveParam(gctx, a, p, inv)
			if err != nil {
				return err
			}
			results[i] = resolved{index: p.Index, value: v}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].index < results[j].index
	})

	args := make(action.Args, len(results))
	for i, r := range results {
		args[i] = r.value
	}
	return args, nil
}

func (d *Dispatcher) resolveParam(ctx context.Context, a *action.Descriptor, p *action.Parameter, inv action.Invocation) (any, error) {
	var (
		value any
		err   error
	)

	socket := inv.Socket
	switch p.Source {
	case action.SourceSocket:
		if socket != nil {
			value = socket
		}
	case action.SourceServer:
		if inv.Server != nil {
			value = inv.Server
		}
	case action.SourceQuery:
		if socket != nil {
			if q := socket.Query(); q.Has(p.Name) {
				value = q.Get(p.Name)
			}
		}
	case action.SourceSocketID:
		if socket != nil {
			value = socket.ID()
		}
	case action.SourceRequest:
		if socket != nil {
			value = socket.Request()
		}
	case action.SourceRooms:
		if socket != nil {
			value = socket.Rooms()
		}
	case action.SourceBody:
		value, err = d.resolveBody(a, p, inv.Data)
	case action.SourceCustom:
		value, err = p.Custom(ctx, inv)
	default:
		err = oops.Code(action.CodeInvalidParameter).
			With("index", p.Index).
			Errorf("unknown parameter source %d", p.Source)
	}
	if err != nil {
		return nil, err
	}

	if p.Transform != nil {
		return p.Transform(value, socket)
	}
	return value, nil
}

func (d *Dispatcher) resolveBody(a *action.Descriptor, p *action.Parameter, data any) (any, error) {
	raw := data
	if p.Path != "" {
		var err error
		if raw, err = coerce.ExtractPath(raw, p.Path); err != nil {
			return nil, err
		}
	}

	// absent and empty payloads skip coercion
	if raw == nil || raw == "" {
		return raw, nil
	}

	switch p.Type {
	case coerce.TypeNumber, coerce.TypeString, coerce.TypeBoolean:
		return d.coercer.Coerce(raw, p.Type), nil
	case coerce.TypeObject:
		return d.coercer.StructuredParse(raw)
	case coerce.TypeShape:
		return d.resolveShape(a, p, raw)
	default:
		return raw, nil
	}
}

// resolveShape parses raw and, when structured transform is on, validates
// it against the shape and maps it into a new instance.
func (d *Dispatcher) resolveShape(a *action.Descriptor, p *action.Parameter, raw any) (any, error) {
	plain, err := d.coercer.StructuredParse(raw)
	if err != nil {
		return nil, err
	}
	if !d.transformEnabled(a) || p.Shape == nil {
		return plain, nil
	}

	validate := d.validate
	if p.Validate != nil {
		validate = *p.Validate
	}

	var errs []failure.ValidationError
	if validate {
		if errs, err = d.coercer.Validate(plain, p.Shape, d.validateOptions); err != nil {
			return nil, err
		}
	}

	opts := d.shapeOptions
	if p.ShapeOptions != nil {
		opts = *p.ShapeOptions
	}
	instance, err := d.coercer.MapToShape(plain, p.Shape, opts)
	if err != nil {
		if len(errs) > 0 && failure.Is(err, failure.KindValidation) {
			// the schema errors already describe the mismatch
			return nil, failure.NewValidationFailure(errs)
		}
		return nil, err
	}

	if validate {
		if sv, ok := instance.(coerce.SelfValidator); ok {
			errs = append(errs, sv.ValidateShape()...)
		}
	}
	if len(errs) > 0 {
		return nil, failure.NewValidationFailure(errs)
	}
	return instance, nil
}

func (d *Dispatcher) transformEnabled(a *action.Descriptor) bool {
	if a.ClassTransform != nil {
		return *a.ClassTransform
	}
	return d.classTransform
}
