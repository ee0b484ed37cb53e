package resolver

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"academy-attendance/internal/model"
	"academy-attendance/internal/store/memstore"
)

func newDirectory(persons ...model.Person) *memstore.Store {
	s := memstore.New()
	for _, p := range persons {
		s.AddPerson(p)
	}
	return s
}

var (
	alice   = model.Person{ID: "u1", ExternalID: "EMP001", Email: "alice@academy.test", Name: "Alice Marie Johnson", Role: model.RoleStaff}
	bob     = model.Person{ID: "u2", ExternalID: "EMP002", Phone: "0900000002", Name: "Bob Stone", Role: model.RoleInstructor}
	student = model.Person{ID: "u3", ExternalID: "STU001", Name: "Carol Student", Role: model.RoleStudent}
	minh    = model.Person{ID: "u4", ExternalID: "EMP004", Name: "Nguyễn Văn Minh", Role: model.RoleStaff}
)

func TestResolve_ExactCode(t *testing.T) {
	r := New(newDirectory(alice, bob))
	ctx := context.Background()

	for _, code := range []string{"EMP001", "alice@academy.test"} {
		res, err := r.Resolve(ctx, code, "")
		require.NoError(t, err)
		assert.Equal(t, "u1", res.Person.ID)
		assert.Equal(t, MethodCode, res.Method)
	}

	res, err := r.Resolve(ctx, "0900000002", "")
	require.NoError(t, err)
	assert.Equal(t, "u2", res.Person.ID)
}

func TestResolve_CodeTakesPrecedenceOverName(t *testing.T) {
	r := New(newDirectory(alice, bob))

	// Name would fuzzily match Alice, but the code belongs to Bob.
	res, err := r.Resolve(context.Background(), "EMP002", "alice johnson")
	require.NoError(t, err)
	assert.Equal(t, "u2", res.Person.ID)
	assert.Equal(t, MethodCode, res.Method)
}

func TestResolve_NameSubstring(t *testing.T) {
	r := New(newDirectory(alice, bob))

	res, err := r.Resolve(context.Background(), "UNKNOWN", "Bob")
	require.NoError(t, err)
	assert.Equal(t, "u2", res.Person.ID)
	assert.Equal(t, MethodName, res.Method)
}

func TestResolve_FuzzyTokens(t *testing.T) {
	r := New(newDirectory(alice, bob, minh))
	ctx := context.Background()

	res, err := r.Resolve(ctx, "", "johnson ALICE")
	require.NoError(t, err)
	assert.Equal(t, "u1", res.Person.ID)
	assert.Equal(t, MethodFuzzy, res.Method)

	res, err = r.Resolve(ctx, "", "nguyen minh")
	require.NoError(t, err)
	assert.Equal(t, "u4", res.Person.ID)
}

func TestResolve_StudentsExcluded(t *testing.T) {
	r := New(newDirectory(alice, student))
	ctx := context.Background()

	_, err := r.Resolve(ctx, "STU001", "")
	assert.ErrorIs(t, err, ErrPersonNotResolved)

	_, err = r.Resolve(ctx, "", "Carol")
	assert.ErrorIs(t, err, ErrPersonNotResolved)
}

func TestResolve_Ambiguous(t *testing.T) {
	alice2 := model.Person{ID: "u9", Name: "Alice Brown", Role: model.RoleInstructor}
	r := New(newDirectory(alice, alice2))

	res, err := r.Resolve(context.Background(), "", "Alice")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAmbiguousPerson)

	var amb *AmbiguityError
	require.True(t, errors.As(err, &amb))
	assert.ElementsMatch(t, []string{"u1", "u9"}, amb.Candidates)
	assert.Nil(t, res.Person)
}

func TestResolve_NotFound(t *testing.T) {
	r := New(newDirectory(alice))
	_, err := r.Resolve(context.Background(), "NOPE", "Zed Unknown")
	assert.ErrorIs(t, err, ErrPersonNotResolved)

	_, err = r.Resolve(context.Background(), "", "")
	assert.ErrorIs(t, err, ErrPersonNotResolved)
}
