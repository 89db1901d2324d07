package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidatePort(t *testing.T) {
	assert.NoError(t, validatePort("993"))
	assert.Error(t, validatePort(""))
	assert.Error(t, validatePort("99a"))
}

func TestValidateRequired(t *testing.T) {
	v := validateRequired("Username")
	assert.NoError(t, v("ta"))
	assert.EqualError(t, v("  "), "Username is required")
}

func TestValidateOptionalAddress(t *testing.T) {
	assert.NoError(t, validateOptionalAddress(""))
	assert.NoError(t, validateOptionalAddress("ta@illinois.edu"))
	assert.Error(t, validateOptionalAddress("not an address"))
}
