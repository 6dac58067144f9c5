package apperr

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestTaxonomyPredicates(t *testing.T) {
	assert.True(t, IsValidation(Validation("bad input")))
	assert.False(t, IsNotFound(Validation("bad input")))

	assert.True(t, IsNotFound(NotFound("no such feed")))
	assert.False(t, IsDependency(NotFound("no such feed")))

	dep := Dependency(errors.New("connection refused"), "failed to read feed page")
	assert.True(t, IsDependency(dep))
	assert.False(t, IsValidation(dep))

	// Plain errors belong to no kind.
	assert.False(t, IsValidation(errors.New("boom")))
	assert.False(t, IsDependency(errors.New("boom")))
}

func TestDependencyPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	dep := Dependency(cause, "failed to read feed page")

	assert.Equal(t, "failed to read feed page: connection refused", dep.Error())
	assert.True(t, errors.Is(dep, cause))
}

func TestDependencyPassesThroughNil(t *testing.T) {
	assert.Nil(t, Dependency(nil, "never happened"))
}
