package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// Verifier checks tokens issued by the external identity service. This core
// never issues tokens; it only extracts the caller identity and role.
type Verifier struct {
	Secret    []byte
	Validator TokenValidator
	Now       func() time.Time
}

// Claims is the subset of token claims this service consumes.
type Claims struct {
	Subject string
	Role    string
}

// Verify parses and validates a compact token and returns its claims.
func (v Verifier) Verify(raw string) (Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Claims{}, fmt.Errorf("auth: empty token")
	}
	alg := v.Validator.Algorithm
	if alg == "" {
		alg = jwa.HS256
	}
	tok, err := jwt.Parse([]byte(raw), jwt.WithKey(alg, v.Secret), jwt.WithValidate(false))
	if err != nil {
		return Claims{}, fmt.Errorf("auth: parse token: %w", err)
	}
	msg, err := jws.Parse([]byte(raw))
	if err != nil {
		return Claims{}, fmt.Errorf("auth: parse signature: %w", err)
	}
	tokenAlg := jwa.SignatureAlgorithm("")
	if sigs := msg.Signatures(); len(sigs) > 0 {
		tokenAlg = sigs[0].ProtectedHeaders().Algorithm()
	}
	now := time.Now()
	if v.Now != nil {
		now = v.Now()
	}
	if err := v.Validator.Validate(tok, tokenAlg, now); err != nil {
		return Claims{}, err
	}
	claims := Claims{Subject: tok.Subject()}
	if role, ok := tok.Get("role"); ok {
		if s, ok := role.(string); ok {
			claims.Role = s
		}
	}
	return claims, nil
}
