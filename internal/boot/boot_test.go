package boot

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/osprey-os/userland/internal/kernel/kerneltest"
)

func TestRunForwardsStatusAndInvokesOnce(t *testing.T) {
	k := kerneltest.New()
	calls := 0

	Run(k, []string{"/bin/sh", "-x"}, func(args []string) int32 {
		calls++
		assert.Equal(t, []string{"/bin/sh", "-x"}, args)
		return 42
	})

	assert.Equal(t, 1, calls)
	assert.True(t, k.Exited)
	assert.Equal(t, int32(42), k.ExitStatus)
}
