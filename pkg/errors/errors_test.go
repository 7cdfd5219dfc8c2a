package errors

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	assert.EqualError(t, New("plain"), "plain")
	assert.EqualError(t, New("account %d missing", 7), "account 7 missing")
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(nil, "ignored"))

	err := Wrap(io.EOF, "could not read %s", "snapshot")
	assert.EqualError(t, err, "could not read snapshot: EOF")
	assert.True(t, Is(err, io.EOF))
	assert.Equal(t, io.EOF, Cause(err))
}

func TestErrorf(t *testing.T) {
	err := Errorf("fetch: %w", io.ErrUnexpectedEOF)
	assert.True(t, Is(err, io.ErrUnexpectedEOF))
}
