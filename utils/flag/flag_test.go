package flag

import (
	stdflag "flag"
	"testing"

	"github.com/stretchr/testify/assert"
)

// Init only registers the flags; parsing is left to ParseFlags in each
// main. Parsing during package init would reject the test runner's own
// flags before the testing package has registered them, so this test
// binary starting at all depends on it.
func TestInitRegistersFlagsWithDefaults(t *testing.T) {
	assert.NotNil(t, stdflag.Lookup("dev"))
	assert.NotNil(t, stdflag.Lookup("service"))
	assert.True(t, IsDevelopment)
	assert.Equal(t, APIServer, ServiceName)
}
