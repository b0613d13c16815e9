package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainError_Format(t *testing.T) {
	err := ExtractionError("corrupt archive", errors.New("zip: not a valid zip file"))
	assert.Equal(t, "[extraction] corrupt archive: zip: not a valid zip file", err.Error())

	assert.Equal(t, "[ambiguous] two documents", AmbiguousError("two documents").Error())
}

func TestDomainError_Chain(t *testing.T) {
	cause := errors.New("no such file")
	wrapped := fmt.Errorf("resolve: %w", NotFoundError("package not found", cause))

	assert.True(t, IsType(wrapped, ErrorTypeNotFound))
	assert.False(t, IsType(wrapped, ErrorTypeEngine))
	assert.ErrorIs(t, wrapped, cause)
	assert.ErrorIs(t, wrapped, &DomainError{Type: ErrorTypeNotFound})
	assert.Equal(t, ErrorType(""), TypeOf(cause))
}
