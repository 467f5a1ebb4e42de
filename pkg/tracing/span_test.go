package tracing

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ThaoDoan2/ElasticClient/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartUsesRequestIDAndNests(t *testing.T) {
	ctx := logger.WithRequestID(context.Background(), "req-1")

	ctx, root := Start(ctx, "chart.purchases_by_date")
	_, child := Start(ctx, "store.search")
	child.SetError(errors.New("timeout"))
	child.End()
	root.End()

	assert.Equal(t, "req-1", root.TraceID)
	assert.Equal(t, "req-1", child.TraceID)
	require.Len(t, root.Children, 1)
	assert.Equal(t, "timeout", root.Children[0].Attrs["error"])
}

func TestLogWritesTree(t *testing.T) {
	var buf bytes.Buffer
	l := logger.New(&buf, "debug", "json")

	ctx, root := StartSpan(context.Background(), "root", "t1")
	_, child := StartChildSpan(ctx, "child")
	child.End()
	root.End()
	root.Log(l)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], `"span":"child"`)
	assert.Contains(t, lines[1], `"depth":1`)
}
