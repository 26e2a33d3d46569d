package subcmd

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/ar844/internal/state"
)

func TestParse(t *testing.T) {
	t.Parallel()

	noop := func(context.Context, *state.Config) error { return nil }
	mods := []Mod{{Name: "run", Main: noop}, {Name: "decode", Main: noop}}

	m, err := Parse("decode", mods)
	require.NoError(t, err)
	assert.Equal(t, "decode", m.Name)

	_, err = Parse("", mods)
	assert.Error(t, err)
	_, err = Parse("flash", mods)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "valid: decode, run")

	assert.Panics(t, func() { _, _ = Parse("x", []Mod{{Main: noop}}) })
}
