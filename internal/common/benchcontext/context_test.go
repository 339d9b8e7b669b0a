package benchcontext

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithLogFields(t *testing.T) {
	logger, hook := test.NewNullLogger()
	ctx := New(context.Background(), logrus.NewEntry(logger))
	ctx = WithLogField(ctx, "connection", "c1")
	ctx = WithLogFields(ctx, logrus.Fields{"stream": "Quote", "file": "a.log"})

	ctx.Log.Info("hello")

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "c1", entry.Data["connection"])
	assert.Equal(t, "Quote", entry.Data["stream"])
	assert.Equal(t, "a.log", entry.Data["file"])
}

func TestFromContext(t *testing.T) {
	ctx := Background()
	assert.Same(t, ctx, FromContext(ctx))
	assert.NotNil(t, FromContext(context.Background()).Log)
}

func TestErrGroup_CancelsOnError(t *testing.T) {
	g, ctx := ErrGroup(Background())
	g.Go(func() error {
		return errors.New("boom")
	})
	g.Go(func() error {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(5 * time.Second):
			return errors.New("not cancelled")
		}
	})
	assert.EqualError(t, g.Wait(), "boom")
	assert.NotNil(t, ctx.Log)
}
