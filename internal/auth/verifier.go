package auth

import "net/http"

// Verifier checks operator bearer tokens on HTTP and WebSocket requests.
// A zero Verifier lets every request through anonymously.
type Verifier struct {
	Required bool
	Secret   string
	Issuer   string
}

// Authenticate returns the numeric user id from the token's subject, or
// nil when authentication is not required.
func (v Verifier) Authenticate(r *http.Request) (*int64, error) {
	if !v.Required {
		return nil, nil
	}
	token, err := TokenFromRequest(r)
	if err != nil {
		return nil, err
	}
	claims, err := ParseToken(token, v.Secret, v.Issuer)
	if err != nil {
		return nil, err
	}
	id, err := claims.UserID()
	if err != nil {
		return nil, err
	}
	return &id, nil
}
