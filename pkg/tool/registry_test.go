package tool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conductor-ai/conductor/internal/errors"
)

func noopHandler(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	return "ok", nil
}

func TestRegister(t *testing.T) {
	r := NewRegistry()

	err := r.Register(Definition{
		Name:        "read_file",
		Description: "Read a file from the workspace.",
		Parameters: []Parameter{
			{Name: "path", Type: "string", Description: "File path", Required: true},
		},
		Handler: noopHandler,
	})
	require.NoError(t, err)

	assert.True(t, r.Has("read_file"))
	assert.Equal(t, 1, r.Count())

	def, ok := r.Get("read_file")
	require.True(t, ok)
	assert.Equal(t, "read_file", def.Name)
}

func TestRegisterDuplicateName(t *testing.T) {
	r := NewRegistry()
	def := Definition{Name: "echo", Description: "Echo input.", Handler: noopHandler}

	require.NoError(t, r.Register(def))
	err := r.Register(def)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindValidation))
}

func TestRegisterMalformed(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		name string
		def  Definition
	}{
		{"empty name", Definition{Description: "d", Handler: noopHandler}},
		{"empty description", Definition{Name: "x", Handler: noopHandler}},
		{"nil handler", Definition{Name: "x", Description: "d"}},
		{"bad param type", Definition{
			Name: "x", Description: "d", Handler: noopHandler,
			Parameters: []Parameter{{Name: "a", Type: "uuid", Description: "d"}},
		}},
		{"unnamed param", Definition{
			Name: "x", Description: "d", Handler: noopHandler,
			Parameters: []Parameter{{Type: "string", Description: "d"}},
		}},
		{"duplicate param", Definition{
			Name: "x", Description: "d", Handler: noopHandler,
			Parameters: []Parameter{
				{Name: "a", Type: "string", Description: "d"},
				{Name: "a", Type: "number", Description: "d"},
			},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Register(tt.def)
			require.Error(t, err)
			assert.True(t, errors.IsKind(err, errors.KindValidation))
		})
	}
}

func TestListSorted(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, r.Register(Definition{Name: name, Description: "d", Handler: noopHandler}))
	}
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, r.List())
}

func TestAllowlist(t *testing.T) {
	t.Run("nil allows everything", func(t *testing.T) {
		var a *Allowlist
		assert.True(t, a.Allowed("anything"))
	})

	t.Run("empty allows nothing", func(t *testing.T) {
		a := NewAllowlist(nil)
		assert.False(t, a.Allowed("read_file"))
	})

	t.Run("membership", func(t *testing.T) {
		a := NewAllowlist([]string{"read_file", "list_directory"})
		assert.True(t, a.Allowed("read_file"))
		assert.False(t, a.Allowed("exec"))
	})
}
