// AngelaMos | 2026
// verifier.go

package identity

import (
	"context"
	"fmt"
	"strings"

	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/lestrrat-go/jwx/v3/jws"
	"github.com/lestrrat-go/jwx/v3/jwt"

	"github.com/carterperez-dev/modelforge/internal/config"
	"github.com/carterperez-dev/modelforge/internal/core"
	"github.com/carterperez-dev/modelforge/internal/middleware"
)

// Verifier validates session tokens issued by the external identity
// provider. It never mints tokens.
type Verifier struct {
	keys   KeySource
	config config.IdentityConfig
}

func NewVerifier(keys KeySource, cfg config.IdentityConfig) *Verifier {
	if cfg.EmailClaim == "" {
		cfg.EmailClaim = "email"
	}
	if cfg.NameClaim == "" {
		cfg.NameClaim = "name"
	}
	return &Verifier{keys: keys, config: cfg}
}

func (v *Verifier) VerifyToken(
	ctx context.Context,
	tokenString string,
) (*middleware.Identity, error) {
	set, err := v.keys.KeySet(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("verify token: %w", err)
	}

	token, err := v.parse(tokenString, set)
	if err != nil && !isTokenExpiredError(err) {
		// The provider may have rotated keys since the last fetch.
		fresh, refreshErr := v.keys.KeySet(ctx, true)
		if refreshErr == nil {
			token, err = v.parse(tokenString, fresh)
		}
	}
	if err != nil {
		if isTokenExpiredError(err) {
			return nil, fmt.Errorf("verify token: %w", core.ErrTokenExpired)
		}
		return nil, fmt.Errorf("verify token: %w", core.ErrTokenInvalid)
	}

	subject, _ := token.Subject()

	var email string
	if err := token.Get(v.config.EmailClaim, &email); err != nil ||
		strings.TrimSpace(email) == "" {
		return nil, fmt.Errorf(
			"verify token: missing %s claim: %w",
			v.config.EmailClaim,
			core.ErrTokenInvalid,
		)
	}

	var name string
	//nolint:errcheck // name is optional
	_ = token.Get(v.config.NameClaim, &name)

	return &middleware.Identity{
		Subject: subject,
		Email:   strings.ToLower(strings.TrimSpace(email)),
		Name:    name,
	}, nil
}

func (v *Verifier) parse(tokenString string, set jwk.Set) (jwt.Token, error) {
	opts := []jwt.ParseOption{
		jwt.WithKeySet(set, jws.WithInferAlgorithmFromKey(true)),
		jwt.WithValidate(true),
		jwt.WithAcceptableSkew(v.config.Leeway),
	}
	if v.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.config.Issuer))
	}
	if v.config.Audience != "" {
		opts = append(opts, jwt.WithAudience(v.config.Audience))
	}

	return jwt.Parse([]byte(tokenString), opts...)
}

func isTokenExpiredError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "exp") &&
		strings.Contains(errStr, "not satisfied")
}
