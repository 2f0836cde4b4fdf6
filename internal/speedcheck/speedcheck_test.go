package speedcheck

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunFailsFastWithoutNetworkAccess(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := Run(ctx)
	require.Error(t, err, "expected speedtest.net to be unreachable in the test sandbox")
}
