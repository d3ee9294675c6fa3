package requestctx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrincipalRoundTrip(t *testing.T) {
	ctx := context.Background()
	_, ok := PrincipalFrom(ctx)
	assert.False(t, ok)

	p := Principal{SubjectID: "sub_1", TenantID: "acme", Role: "client"}
	ctx = SetPrincipal(ctx, p)
	got, ok := PrincipalFrom(ctx)
	assert.True(t, ok)
	assert.Equal(t, p, got)
}
