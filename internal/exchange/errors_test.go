package exchange

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsConnectivity(t *testing.T) {
	base := errors.New("dial tcp: timeout")
	ce := &ConnectivityError{Op: "fetch balance", Err: base}

	assert.True(t, IsConnectivity(ce))
	assert.True(t, IsConnectivity(fmt.Errorf("tick: %w", ce)), "wrapping must not hide the class")
	assert.False(t, IsConnectivity(&OrderRejectedError{Code: 170131, Message: "insufficient balance"}))
	assert.False(t, IsConnectivity(ErrOrderNotFound))
	assert.False(t, IsConnectivity(nil))

	assert.ErrorIs(t, ce, base, "the cause must stay unwrappable")
}

func TestClassifyBybitErr(t *testing.T) {
	// auth/request level: the whole tick retries
	err := classifyBybitErr("op", &bybitError{Code: 10002, Message: "request expired"})
	assert.True(t, IsConnectivity(err))

	// order level: rejected, logged, swallowed by the caller
	err = classifyBybitErr("op", &bybitError{Code: 170131, Message: "insufficient balance"})
	var rejected *OrderRejectedError
	assert.ErrorAs(t, err, &rejected)
	assert.Equal(t, 170131, rejected.Code)

	assert.NoError(t, classifyBybitErr("op", nil))
}
