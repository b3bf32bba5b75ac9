package bytesconv

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBytesToString(t *testing.T) {
	b := []byte("hello world")
	assert.Equal(t, "hello world", BytesToString(b))
	assert.Equal(t, "", BytesToString(nil))
	assert.Equal(t, "", BytesToString([]byte{}))
}

func TestStringToBytes(t *testing.T) {
	b := StringToBytes("hello world")
	assert.Equal(t, []byte("hello world"), b)
	assert.Nil(t, StringToBytes(""))
}

func TestRoundTripSharesMemory(t *testing.T) {
	b := []byte("mutable")
	s := BytesToString(b)
	b[0] = 'M'
	assert.Equal(t, "Mutable", s, "the string views the slice's memory")
}

func TestClone(t *testing.T) {
	b := []byte("source")
	s := Clone(BytesToString(b))
	b[0] = 'X'
	assert.Equal(t, "source", s, "a clone owns its memory")
}
