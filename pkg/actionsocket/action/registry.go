package action

import (
	"errors"
	"reflect"
	"sort"

	"github.com/samber/oops"
	"github.com/tsarna/actionsocket/pkg/actionsocket/coerce"
	"github.com/tsarna/actionsocket/pkg/actionsocket/transport"
)

// Error codes for invalid declarations.
const (
	CodeInvalidAction    = "INVALID_ACTION"
	CodeInvalidParameter = "INVALID_PARAMETER"
	CodeDuplicateRoute   = "DUPLICATE_ROUTE"
)

// Registry collects controller declarations. Use NewRegistry, declare
// controllers, then call Build to obtain an immutable Provider.
//
// Example:
//
//	reg := action.NewRegistry()
//	chat := reg.Controller("chat").Namespace("/chat")
//	chat.OnMessage("save", saveHandler).
//	    Params(action.ConnectedSocket(), action.BodyAs[SaveRequest]()).
//	    EmitOnSuccess("save/success").
//	    EmitOnFailFor(action.MatchKind(failure.KindValidation), "save/validation_error").
//	    EmitOnFail("save/error")
//	provider, err := reg.Build()
type Registry struct {
	controllers []*ControllerBuilder
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Controller declares a new controller. name is used in logs and listings.
func (r *Registry) Controller(name string) *ControllerBuilder {
	c := &ControllerBuilder{name: name}
	r.controllers = append(r.controllers, c)
	return c
}

// IsValid checks every declaration and returns all problems joined.
func (r *Registry) IsValid() error {
	var errs []error
	routes := make(map[string]string)

	for _, c := range r.controllers {
		ns := NormalizeNamespace(c.namespace)
		for _, a := range c.actions {
			errs = append(errs, validateDescriptor(c.name, &a.desc)...)

			if a.desc.Kind != KindMessage || a.desc.Event == "" {
				continue
			}
			key := RouteKey(ns, a.desc.Event)
			if owner, exists := routes[key]; exists {
				errs = append(errs, oops.Code(CodeDuplicateRoute).
					With("controller", c.name).
					With("route", key).
					Errorf("route %s already declared by controller %s", key, owner))
				continue
			}
			routes[key] = c.name
		}
	}

	return errors.Join(errs...)
}

// Build validates the declarations and returns an immutable Provider.
func (r *Registry) Build() (*Static, error) {
	if err := r.IsValid(); err != nil {
		return nil, err
	}

	controllers := make([]Controller, len(r.controllers))
	for i, c := range r.controllers {
		actions := make([]*Descriptor, len(c.actions))
		for j, a := range c.actions {
			desc := a.desc
			desc.Parameters = append([]Parameter(nil), a.desc.Parameters...)
			if desc.Name == "" {
				desc.Name = defaultActionName(&desc)
			}
			actions[j] = &desc
		}
		controllers[i] = Controller{
			Name:      c.name,
			Namespace: c.namespace,
			Actions:   actions,
		}
	}

	return &Static{controllers: controllers}, nil
}

func validateDescriptor(controller string, d *Descriptor) []error {
	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, oops.Code(CodeInvalidAction).
			With("controller", controller).
			With("kind", d.Kind.String()).
			With("event", d.Event).
			Errorf(format, args...))
	}

	switch d.Kind {
	case KindConnect, KindDisconnect:
	case KindMessage:
		if d.Event == "" {
			invalid("message action requires an event name")
		}
		if d.Event == transport.EventConnection || d.Event == transport.EventDisconnect {
			invalid("event name %q is reserved", d.Event)
		}
	default:
		invalid("unknown action kind %d", d.Kind)
	}

	if d.Handler == nil {
		invalid("action has no handler")
	}

	for _, p := range []*Policy{d.OnSuccess, d.OnFail} {
		if p != nil && p.Event == "" {
			invalid("emission policy requires an event name")
		}
	}
	if d.OnFailFor != nil {
		if d.OnFailFor.Event == "" {
			invalid("emit-on-fail-for policy requires an event name")
		}
		if d.OnFailFor.Matcher == nil {
			invalid("emit-on-fail-for policy requires an error matcher")
		}
	}

	return append(errs, validateParameters(controller, d)...)
}

func validateParameters(controller string, d *Descriptor) []error {
	var errs []error
	invalid := func(p Parameter, format string, args ...any) {
		errs = append(errs, oops.Code(CodeInvalidParameter).
			With("controller", controller).
			With("event", d.Event).
			With("index", p.Index).
			With("source", p.Source.String()).
			Errorf(format, args...))
	}

	seen := make(map[int]bool, len(d.Parameters))
	for _, p := range d.Parameters {
		if p.Index < 0 || p.Index >= len(d.Parameters) {
			invalid(p, "parameter index %d out of range 0..%d", p.Index, len(d.Parameters)-1)
		} else if seen[p.Index] {
			invalid(p, "duplicate parameter index %d", p.Index)
		}
		seen[p.Index] = true

		switch p.Source {
		case SourceQuery:
			if p.Name == "" {
				invalid(p, "query parameter requires a name")
			}
		case SourceCustom:
			if p.Custom == nil {
				invalid(p, "custom parameter requires a resolver")
			}
		case SourceSocket, SourceServer, SourceSocketID, SourceRequest, SourceRooms, SourceBody:
		default:
			invalid(p, "unknown parameter source %d", p.Source)
		}

		if p.Type == coerce.TypeShape {
			shape := p.Shape
			for shape != nil && shape.Kind() == reflect.Pointer {
				shape = shape.Elem()
			}
			if shape == nil || shape.Kind() != reflect.Struct {
				invalid(p, "shape parameter requires a struct type, got %v", p.Shape)
			}
		}
	}

	return errs
}

func defaultActionName(d *Descriptor) string {
	if d.Kind == KindMessage {
		return d.Event
	}
	return d.Kind.String()
}

// NormalizeNamespace maps the empty namespace to the default one and makes
// sure namespaces start with a slash.
func NormalizeNamespace(ns string) string {
	if ns == "" || ns == transport.DefaultNamespace {
		return transport.DefaultNamespace
	}
	if ns[0] != '/' {
		return "/" + ns
	}
	return ns
}

// RouteKey combines a namespace and an event name into a routing key.
func RouteKey(namespace, event string) string {
	ns := NormalizeNamespace(namespace)
	if ns == transport.DefaultNamespace {
		return "/" + event
	}
	return ns + "/" + event
}

// Static is an immutable Provider produced by Registry.Build.
type Static struct {
	controllers []Controller
}

var _ Provider = (*Static)(nil)

// StaticProvider wraps already built controllers as a Provider.
func StaticProvider(controllers ...Controller) *Static {
	return &Static{controllers: append([]Controller(nil), controllers...)}
}

// Controllers returns the controllers in declaration order.
func (s *Static) Controllers() []Controller {
	return s.controllers
}

// Route is one row of a route listing.
type Route struct {
	Controller string
	Namespace  string
	Kind       Kind
	Event      string
	Action     string
	OnSuccess  string
	OnFail     string
	OnFailFor  string
	Matcher    string
}

// Routes lists every action of the provider, sorted by namespace and then
// declaration order.
func Routes(p Provider) []Route {
	var routes []Route
	for _, c := range p.Controllers() {
		for _, a := range c.Actions {
			r := Route{
				Controller: c.Name,
				Namespace:  NormalizeNamespace(c.Namespace),
				Kind:       a.Kind,
				Event:      a.Event,
				Action:     a.Name,
			}
			if a.OnSuccess != nil {
				r.OnSuccess = a.OnSuccess.Event
			}
			if a.OnFail != nil {
				r.OnFail = a.OnFail.Event
			}
			if a.OnFailFor != nil {
				r.OnFailFor = a.OnFailFor.Event
				if a.OnFailFor.Matcher != nil {
					r.Matcher = a.OnFailFor.Matcher.String()
				}
			}
			routes = append(routes, r)
		}
	}
	sort.SliceStable(routes, func(i, j int) bool {
		return routes[i].Namespace < routes[j].Namespace
	})
	return routes
}
