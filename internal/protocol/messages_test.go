package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		wantErr bool
	}{
		{"init without id", Request{Kind: RequestInit}, false},
		{"reset without id", Request{Kind: RequestReset}, false},
		{"exec with id", Request{Kind: RequestExec, ID: "exec_01", Code: "1+1"}, false},
		{"exec missing id", Request{Kind: RequestExec, Code: "1+1"}, true},
		{"init with id", Request{Kind: RequestInit, ID: "exec_01"}, true},
		{"unknown kind", Request{Kind: "shutdown"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestResponseTerminal(t *testing.T) {
	assert.True(t, Response{Kind: ResponseResult, ID: "exec_01"}.Terminal())
	assert.True(t, Response{Kind: ResponseError, ID: "exec_01"}.Terminal())
	assert.False(t, Response{Kind: ResponseStdout, ID: "exec_01"}.Terminal())
	assert.False(t, Response{Kind: ResponseReady}.Terminal())
}

func TestResponseGlobal(t *testing.T) {
	assert.True(t, Response{Kind: ResponseError, Message: "install failed"}.Global())
	assert.False(t, Response{Kind: ResponseError, ID: "exec_01"}.Global())
	assert.False(t, Response{Kind: ResponseProgress, Message: "loading"}.Global())
}

func TestResponseRoundTrip(t *testing.T) {
	orig := Response{
		Kind:      ResponseError,
		ID:        "exec_01HZXK",
		Message:   "ReferenceError: x is not defined",
		Traceback: "ReferenceError: x is not defined\n\tat <eval>:1:1",
	}

	data, err := orig.Encode()
	require.NoError(t, err)

	decoded, err := DecodeResponse(data)
	require.NoError(t, err)
	assert.Equal(t, orig, decoded)
}
