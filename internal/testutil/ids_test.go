package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSequentialIDs(t *testing.T) {
	src := NewSequentialIDs("RUN")

	assert.Equal(t, "RUN0000000000001", src.Draw())
	assert.Equal(t, "RUN0000000000002", src.Draw())
}

func TestSequentialIDs_LongPrefixTruncated(t *testing.T) {
	src := NewSequentialIDs("INSTANCE-LONG")

	id := src.Draw()
	assert.Len(t, id, 16)
	assert.Equal(t, "INSTANCE00000001", id)
}
