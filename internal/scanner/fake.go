package scanner

import (
	"context"

	"github.com/ghmbegerez/converge/internal/store"
)

// Fake is a scripted Port for tests.
type Fake struct {
	ScannerName string
	Available   bool
	Findings    []store.SecurityFinding
}

func (f *Fake) Name() string { return f.ScannerName }

func (f *Fake) IsAvailable(context.Context) bool { return f.Available }

func (f *Fake) Scan(context.Context, string, Options) ([]store.SecurityFinding, error) {
	return f.Findings, nil
}
