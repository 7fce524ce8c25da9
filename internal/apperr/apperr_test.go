package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

var errThing = New(KindNotFound, "THING_NOT_FOUND", "thing not found")

func TestIsMatchesByCode(t *testing.T) {
	decoded := &Error{Kind: KindNotFound, Code: "THING_NOT_FOUND", Message: "from the wire"}
	assert.ErrorIs(t, decoded, errThing)
	assert.ErrorIs(t, fmt.Errorf("loading: %w", errThing), errThing)
	assert.NotErrorIs(t, New(KindNotFound, "OTHER", "x"), errThing)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindNotFound, KindOf(fmt.Errorf("wrap: %w", errThing)))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
}

func TestTransientKeepsCause(t *testing.T) {
	err := Transient("list messages", context.DeadlineExceeded)
	assert.True(t, IsTransient(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "TRANSIENT", CodeOf(err))
}

func TestParseKindRoundTrip(t *testing.T) {
	for _, k := range []Kind{KindValidation, KindNotFound, KindPermission, KindConflict, KindTransient} {
		assert.Equal(t, k, ParseKind(k.String()))
	}
}
