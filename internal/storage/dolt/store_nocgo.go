//go:build !cgo

package dolt

import (
	"context"
	"errors"
)

var errNoCGO = errors.New("dolt: embedded mode requires a CGO-enabled build; run with ServerMode against a dolt sql-server instead")

// newEmbeddedMode is unavailable without CGO; callers must use server mode.
func newEmbeddedMode(_ context.Context, _ *Config) (*Store, error) {
	return nil, errNoCGO
}
