package scanner

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ghmbegerez/converge/internal/store"
)

func TestRegistryFallsBackToUnavailable(t *testing.T) {
	reg := NewRegistry(&Fake{ScannerName: "semgrep", Available: true})
	got := reg.Get("nonexistent")
	require.Equal(t, "nonexistent", got.Name())
	require.False(t, got.IsAvailable(nil))
}

func TestRegistryResolvesByName(t *testing.T) {
	fake := &Fake{ScannerName: "semgrep", Available: true}
	reg := NewRegistry(fake)
	got := reg.Get("semgrep")
	require.True(t, got.IsAvailable(nil))
}

func TestNormalizeSecretFindingForcesHighSeverity(t *testing.T) {
	f := store.SecurityFinding{Rule: "aws-key"}
	out := NormalizeSecretFinding(f, "AKIA1234567890")
	require.Equal(t, store.SeverityHigh, out.Severity)
	require.Equal(t, store.CategorySecrets, out.Category)
	require.Equal(t, "aws-key:AKIA1234", out.Evidence)
}
