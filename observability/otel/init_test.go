package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseHeaders(t *testing.T) {
	got := ParseHeaders(" authorization = Bearer abc ,broken, =novalue,x-tenant=leases,")
	require.Equal(t, map[string]string{
		"authorization": "Bearer abc",
		"x-tenant":      "leases",
	}, got)
	require.Empty(t, ParseHeaders(""))
}

func TestInitWithoutExporters(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "leased"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))

	_, err = Init(context.Background(), Config{})
	require.Error(t, err)
}
