package procutil_test

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kernald/kernald/internal/procutil"
)

func TestPidAlive_CurrentProcess(t *testing.T) {
	assert.True(t, procutil.PidAlive(os.Getpid()))
}

func TestPidAlive_InvalidPid(t *testing.T) {
	assert.False(t, procutil.PidAlive(0))
	assert.False(t, procutil.PidAlive(-1))
}

func TestScanner_CachesWithinTTL(t *testing.T) {
	s := procutil.NewScanner(50 * time.Millisecond)

	first, err := s.ListeningPorts()
	require.NoError(t, err)

	second, err := s.ListeningPorts()
	require.NoError(t, err)

	assert.Equal(t, len(first), len(second))

	time.Sleep(60 * time.Millisecond)
	_, err = s.ListeningPorts()
	require.NoError(t, err)
}
