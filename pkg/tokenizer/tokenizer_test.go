package tokenizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimate(t *testing.T) {
	assert.Zero(t, Estimate(""))
	assert.Zero(t, Estimate(" \n\t"))
	assert.Equal(t, 1, Estimate("hi"))
	// 30 words: the word estimate wins.
	assert.Equal(t, 40, Estimate(strings.Repeat("a b c ", 10)))
	// One long token: the character estimate wins.
	assert.Equal(t, 25, Estimate(strings.Repeat("x", 100)))
}

func TestEstimateAll(t *testing.T) {
	assert.Equal(t, 0, EstimateAll(nil))
	assert.Equal(t, Estimate("one two")+Estimate("three"), EstimateAll([]string{"one two", "three"}))
}
