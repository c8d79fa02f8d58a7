package errors

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_KindMatching(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := Cache.Explain("load window %s", "acc-1").Wrap(cause)

	assert.True(t, Is(err, Cache))
	assert.False(t, Is(err, Monitor))
	assert.True(t, Is(err, cause))
	assert.Equal(t, KindCache, KindOf(err))
	assert.Equal(t, "[cache] load window acc-1: connection refused", err.Error())
}

func TestError_WrapDoesNotMutateSentinel(t *testing.T) {
	_ = Monitor.Wrap(stderrors.New("boom"))
	assert.Nil(t, Monitor.Unwrap())
	assert.Equal(t, KindUnknown, KindOf(stderrors.New("plain")))
}
