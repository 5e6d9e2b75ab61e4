package flags

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetPrecedenceEnvWinsOverConfigOverDefaults(t *testing.T) {
	r := New(map[string]Flag{"x": {Enabled: false, Mode: ModeOff}}, "TESTNS")
	require.Equal(t, Flag{Enabled: false, Mode: ModeOff}, r.Get("x"))

	r.SetConfig("x", Flag{Enabled: true, Mode: ModeShadow})
	require.Equal(t, Flag{Enabled: true, Mode: ModeShadow}, r.Get("x"))

	t.Setenv("TESTNS_FLAG_X", "enforce")
	require.Equal(t, Flag{Enabled: true, Mode: ModeEnforce}, r.Get("x"))
}

func TestFromEnvBooleanFallback(t *testing.T) {
	r := New(map[string]Flag{"y": {Enabled: false, Mode: ModeOff}}, "")
	t.Setenv("FLAG_Y", "true")
	require.Equal(t, Flag{Enabled: true, Mode: ModeEnforce}, r.Get("y"))

	t.Setenv("FLAG_Y", "false")
	require.Equal(t, Flag{Enabled: false, Mode: ModeOff}, r.Get("y"))
}

func TestDefaultRegistryConservativePosture(t *testing.T) {
	r := DefaultRegistry()
	require.False(t, r.Enabled(FlagAutoClassify))
	require.False(t, r.Enabled(FlagAutoConfirmMerge))
	require.Equal(t, ModeShadow, r.Get(FlagRiskGateEnforce).Mode)
}
