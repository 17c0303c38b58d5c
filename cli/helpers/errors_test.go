package helpers

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tencdm/tencdm/engine/hub"
)

func TestErrors(t *testing.T) {
	t.Run("Should match format errors by sentinel", func(t *testing.T) {
		err := NewFormatError("xml", "json", "yaml")
		assert.ErrorIs(t, err, ErrUnsupportedFormat)
		assert.Contains(t, err.Error(), `"xml"`)
	})
	t.Run("Should match override errors by sentinel", func(t *testing.T) {
		err := NewOverrideError("seed")
		assert.ErrorIs(t, err, ErrInvalidOverride)
		assert.NotErrorIs(t, err, ErrUnsupportedFormat)
	})
}

func TestContext(t *testing.T) {
	t.Run("Should carry the hub and deferred build error", func(t *testing.T) {
		h, err := hub.New(hub.WithCacheDir(t.TempDir()), hub.WithEndpoint(""))
		require.NoError(t, err)
		boom := errors.New("boom")
		ctx := ContextWithBuildError(ContextWithHub(t.Context(), h), boom)
		assert.Same(t, h, HubFromContext(ctx))
		assert.Equal(t, boom, BuildErrorFromContext(ctx))
	})
	t.Run("Should return nil values on an empty context", func(t *testing.T) {
		assert.Nil(t, HubFromContext(context.Background()))
		assert.NoError(t, BuildErrorFromContext(context.Background()))
	})
}
