package action

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/samber/oops"
	"github.com/tsarna/actionsocket/pkg/actionsocket/failure"
)

// ErrorMatcher decides whether an emit-on-fail-for policy applies to a
// failure. Matchers are evaluated at dispatch time, never at registration.
type ErrorMatcher interface {
	Match(err error) bool
	String() string
}

type kindMatcher struct {
	kind failure.Kind
}

// MatchKind matches failures whose Kind tag equals kind.
func MatchKind(kind failure.Kind) ErrorMatcher {
	return kindMatcher{kind: kind}
}

func (m kindMatcher) Match(err error) bool {
	return failure.Is(err, m.kind)
}

func (m kindMatcher) String() string {
	return "kind:" + string(m.kind)
}

type typeMatcher[T error] struct{}

// MatchType matches failures whose chain holds a value of type T.
func MatchType[T error]() ErrorMatcher {
	return typeMatcher[T]{}
}

func (typeMatcher[T]) Match(err error) bool {
	var target T
	return errors.As(err, &target)
}

func (typeMatcher[T]) String() string {
	return "type:" + reflect.TypeFor[T]().String()
}

type lazyMatcher struct {
	ref func() reflect.Type
}

// MatchLazy matches failures whose chain holds a value of exactly the type
// ref returns. ref is called on every match, so it may refer to types that
// are not available yet when the action is declared.
func MatchLazy(ref func() reflect.Type) ErrorMatcher {
	return lazyMatcher{ref: ref}
}

func (m lazyMatcher) Match(err error) bool {
	want := m.ref()
	if want == nil {
		return false
	}
	for err != nil {
		if reflect.TypeOf(err) == want {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

func (m lazyMatcher) String() string {
	if t := m.ref(); t != nil {
		return "type:" + t.String()
	}
	return "type:<unresolved>"
}

type codeMatcher struct {
	code string
}

// MatchCode matches oops errors carrying the given code.
func MatchCode(code string) ErrorMatcher {
	return codeMatcher{code: code}
}

func (m codeMatcher) Match(err error) bool {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return false
	}
	return fmt.Sprint(oopsErr.Code()) == m.code
}

func (m codeMatcher) String() string {
	return "code:" + m.code
}

type anyMatcher []ErrorMatcher

// MatchAny matches when any of the given matchers does.
func MatchAny(matchers ...ErrorMatcher) ErrorMatcher {
	return anyMatcher(matchers)
}

func (m anyMatcher) Match(err error) bool {
	for _, matcher := range m {
		if matcher.Match(err) {
			return true
		}
	}
	return false
}

func (m anyMatcher) String() string {
	return fmt.Sprintf("any%v", []ErrorMatcher(m))
}
