package shell

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsDangerousRejectsRootRemoval(t *testing.T) {
	require.True(t, IsDangerous("rm -rf /"))
	require.True(t, IsDangerous("rm -fr /"))
	require.True(t, IsDangerous("sudo rm -rf /*"))
}

func TestIsDangerousRejectsForkBomb(t *testing.T) {
	require.True(t, IsDangerous(":(){ :|:& };:"))
}

func TestIsDangerousAllowsOrdinaryCommands(t *testing.T) {
	require.False(t, IsDangerous("rm -rf ./build"))
	require.False(t, IsDangerous("ls -la /"))
	require.False(t, IsDangerous("echo hello > output.txt"))
}
