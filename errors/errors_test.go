package errors_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	fatfserrors "github.com/dargueta/vfat32/errors"
)

func TestDriverError__IsMatchesByKindNotMessage(t *testing.T) {
	a := fatfserrors.Newf(fatfserrors.NotFound, "file %q is missing", "x.txt")
	b := fatfserrors.Newf(fatfserrors.NotFound, "a completely different message")

	assert.True(t, errors.Is(a, b))
	assert.True(t, errors.Is(a, fatfserrors.ErrNotFound))
}

func TestDriverError__IsDoesNotMatchDifferentKind(t *testing.T) {
	a := fatfserrors.New(fatfserrors.NotFound)
	b := fatfserrors.New(fatfserrors.InvalidData)
	assert.False(t, errors.Is(a, b))
}

func TestDriverError__Wrap__PreservesKindAndUnwraps(t *testing.T) {
	cause := errors.New("disk exploded")
	wrapped := fatfserrors.New(fatfserrors.Other).Wrap(cause)

	assert.True(t, errors.Is(wrapped, fatfserrors.ErrOther))
	assert.Equal(t, cause, errors.Unwrap(wrapped))
	assert.Contains(t, wrapped.Error(), "disk exploded")
}

func TestDriverError__WithMessage__AppendsWithoutChangingKind(t *testing.T) {
	base := fatfserrors.New(fatfserrors.InvalidInput)
	extended := base.WithMessage("path must be absolute")

	assert.True(t, errors.Is(extended, fatfserrors.ErrInvalidInput))
	assert.Contains(t, extended.Error(), "path must be absolute")
}

func TestKind__String__CoversEveryKnownKind(t *testing.T) {
	kinds := []fatfserrors.Kind{
		fatfserrors.NotFound,
		fatfserrors.InvalidInput,
		fatfserrors.InvalidData,
		fatfserrors.UnexpectedEOF,
		fatfserrors.AlreadyExists,
		fatfserrors.PermissionDenied,
		fatfserrors.Other,
	}
	for _, k := range kinds {
		assert.NotEmpty(t, k.String())
	}
}
