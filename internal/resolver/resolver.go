// Package resolver maps a device-reported identity (employee code and/or
// display name) to a person known to the identity provider.
//
// Resolution order, first match wins:
//
//  1. exact code against external id, email or phone
//  2. exact substring of the reported name in a stored name
//  3. every whitespace token of the reported name is a case- and
//     accent-insensitive substring of a stored name
//
// Only employee-like persons take part; students never resolve. The two
// name paths collect every candidate, and more than one candidate is
// reported as ErrAmbiguousPerson rather than guessed.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"academy-attendance/internal/model"
)

var (
	ErrPersonNotResolved = errors.New("person not resolved")
	ErrAmbiguousPerson   = errors.New("ambiguous person")
)

type Method string

const (
	MethodCode  Method = "code"
	MethodName  Method = "name"
	MethodFuzzy Method = "fuzzy"
)

// Directory is the identity provider boundary.
type Directory interface {
	FindByIdentifier(ctx context.Context, code string) (*model.Person, error)
	ListEmployees(ctx context.Context) ([]model.Person, error)
}

type Resolution struct {
	Person     *model.Person
	Method     Method
	Candidates []string // person ids, set when ambiguous
}

// AmbiguityError carries the candidate set of an ambiguous name match.
type AmbiguityError struct {
	Method     Method
	Candidates []string
}

func (e *AmbiguityError) Error() string {
	return fmt.Sprintf("%s match found %d candidates", e.Method, len(e.Candidates))
}

func (e *AmbiguityError) Unwrap() error { return ErrAmbiguousPerson }

type Resolver struct {
	dir Directory
}

func New(dir Directory) *Resolver {
	return &Resolver{dir: dir}
}

// Resolve finds the person behind a device event. It returns
// ErrPersonNotResolved when nothing matches and an *AmbiguityError when a
// name path matches several people.
func (r *Resolver) Resolve(ctx context.Context, code, name string) (*Resolution, error) {
	code = strings.TrimSpace(code)
	name = strings.TrimSpace(name)

	if code != "" {
		p, err := r.dir.FindByIdentifier(ctx, code)
		if err != nil {
			return nil, fmt.Errorf("lookup by code: %w", err)
		}
		if p != nil && p.Role.EmployeeLike() {
			return &Resolution{Person: p, Method: MethodCode}, nil
		}
	}

	if name == "" {
		return nil, ErrPersonNotResolved
	}

	employees, err := r.dir.ListEmployees(ctx)
	if err != nil {
		return nil, fmt.Errorf("list employees: %w", err)
	}

	substring := filter(employees, func(p model.Person) bool {
		return strings.Contains(p.Name, name)
	})
	if res, err := pick(substring, MethodName); res != nil || err != nil {
		return res, err
	}

	tokens := strings.Fields(normalize(name))
	fuzzy := filter(employees, func(p model.Person) bool {
		stored := normalize(p.Name)
		for _, tok := range tokens {
			if !strings.Contains(stored, tok) {
				return false
			}
		}
		return true
	})
	if res, err := pick(fuzzy, MethodFuzzy); res != nil || err != nil {
		return res, err
	}

	return nil, ErrPersonNotResolved
}

func filter(persons []model.Person, keep func(model.Person) bool) []model.Person {
	var out []model.Person
	for _, p := range persons {
		if p.Role.EmployeeLike() && keep(p) {
			out = append(out, p)
		}
	}
	return out
}

func pick(candidates []model.Person, method Method) (*Resolution, error) {
	switch len(candidates) {
	case 0:
		return nil, nil
	case 1:
		p := candidates[0]
		return &Resolution{Person: &p, Method: method}, nil
	}
	ids := make([]string, len(candidates))
	for i, p := range candidates {
		ids[i] = p.ID
	}
	return &Resolution{Method: method, Candidates: ids}, &AmbiguityError{Method: method, Candidates: ids}
}

// normalize case-folds s and strips combining marks so "Nguyễn" matches
// "nguyen" as devices often drop accents. Casers are stateful, so one is
// built per call.
func normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}
	stripped = strings.ReplaceAll(stripped, "đ", "d")
	stripped = strings.ReplaceAll(stripped, "Đ", "D")
	return cases.Fold().String(stripped)
}
