package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUnixDialerRecognizesPrefix(t *testing.T) {
	dialer, ok := unixDialer("unix:/run/proxycore-admin.sock")
	require.True(t, ok)
	require.NotNil(t, dialer)
}

func TestUnixDialerRejectsTCPAddr(t *testing.T) {
	_, ok := unixDialer("127.0.0.1:9090")
	require.False(t, ok)
}

func TestExitErrorMessage(t *testing.T) {
	e := &exitError{Code: exitInvalidConfig}
	require.Equal(t, "exit 2", e.Error())

	wrapped := &exitError{Code: exitFatal, Err: require.AnError}
	require.Equal(t, require.AnError.Error(), wrapped.Error())
}
