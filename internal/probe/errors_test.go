package probe

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	cause := errors.New("refused")
	err := fmt.Errorf("stage: %w", NewError(ConnectionError, cause, "dial %s", "x:1"))

	assert.Equal(t, ConnectionError, KindOf(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "stage: dial x:1: refused", err.Error())
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
}

func TestIsFatal(t *testing.T) {
	fatal := []Kind{InvalidTarget, ScopeViolation, ResolutionFailure, AllAddressesUnreachable,
		ConnectionTimeout, ConnectionError, HandshakeFailure, StagePanic}
	for _, k := range fatal {
		assert.True(t, IsFatal(k), k)
	}

	nonFatal := []Kind{PartialAddressUnreachable, GreetingTimeout, GreetingEmpty, GreetingReadError, ""}
	for _, k := range nonFatal {
		assert.False(t, IsFatal(k), k)
	}
}
