package errs

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassification(t *testing.T) {
	in := fmt.Errorf("convert: %w", Input("empty candidate set", nil))
	assert.True(t, IsInput(in))
	assert.False(t, IsInvariant(in))
	assert.Contains(t, in.Error(), "empty candidate set")

	inv := Invariant("fid %d already live", 7)
	assert.True(t, IsInvariant(inv))
	assert.Equal(t, "invariant violation: fid 7 already live", inv.Error())

	assert.True(t, IsTransient(External("postgis", context.DeadlineExceeded)))
	assert.True(t, IsTransient(External("postgis", fmt.Errorf("exec: %w", driver.ErrBadConn))))
	assert.False(t, IsTransient(External("postgis", errors.New("syntax error"))))
	assert.True(t, IsPermanentProvider(Permanent("shapefile", errors.New("unsupported crs"))))
	assert.False(t, IsTransient(errors.New("plain")))
}
