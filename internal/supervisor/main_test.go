package supervisor

import (
	"testing"

	"go.uber.org/goleak"
)

// The engine is nothing but goroutines; every test has to leave none behind.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
