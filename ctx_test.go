package identity_test

import (
	"context"
	"testing"

	identity "github.com/goliatone/go-identity"
	"github.com/stretchr/testify/assert"
)

type otherKey struct{}

func TestPrincipalFromContext(t *testing.T) {
	alice := identity.NewPrincipal("user123", "alice", "alice@example.com", []string{"ROLE_ADMIN"})

	tests := []struct {
		name     string
		setupCtx func() context.Context
		want     *identity.Principal
		wantOK   bool
	}{
		{
			name: "should return principal when present in context",
			setupCtx: func() context.Context {
				return identity.WithPrincipal(context.Background(), alice)
			},
			want:   alice,
			wantOK: true,
		},
		{
			name: "should return false when no principal in context",
			setupCtx: func() context.Context {
				return context.Background()
			},
		},
		{
			name: "should return false when a nil principal was stored",
			setupCtx: func() context.Context {
				return identity.WithPrincipal(context.Background(), nil)
			},
		},
		{
			name: "should ignore values stored under other keys",
			setupCtx: func() context.Context {
				return context.WithValue(context.Background(), otherKey{}, alice)
			},
		},
		{
			name: "should return the innermost principal",
			setupCtx: func() context.Context {
				outer := identity.WithPrincipal(context.Background(), identity.NewPrincipal("other", "bob", "", nil))
				return identity.WithPrincipal(outer, alice)
			},
			want:   alice,
			wantOK: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := identity.PrincipalFromContext(tt.setupCtx())

			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Same(t, tt.want, got)
				assert.True(t, got.RoleSet().Has(identity.RoleAdmin))
			} else {
				assert.Nil(t, got)
			}
		})
	}
}
