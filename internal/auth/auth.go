// Package auth decides whether an inbound caller may use the gateway.
//
// The gate only answers "is this credential known". Issuing and revoking
// tokens is done by whatever writes the tokens collection.
package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/llm-router/internal/store"
)

// ErrNoCredential is returned by ExtractCredential when the request carries
// neither a bearer token nor an api-key header.
var ErrNoCredential = errors.New("auth: no credential")

// Gate validates caller credentials.
type Gate interface {
	// Validate reports whether cred is allowed. A non-nil error means the
	// decision could not be made (e.g. store unavailable), not a denial.
	Validate(ctx context.Context, cred string) (bool, error)
}

// CollectionGate allows a credential when it is a field of the tokens
// collection. The field value is ignored.
type CollectionGate struct {
	tokens store.Collection
}

// NewCollectionGate creates a gate over tokens.
func NewCollectionGate(tokens store.Collection) *CollectionGate {
	return &CollectionGate{tokens: tokens}
}

func (g *CollectionGate) Validate(ctx context.Context, cred string) (bool, error) {
	if cred == "" {
		return false, nil
	}
	_, ok, err := g.tokens.Get(ctx, cred)
	if err != nil {
		return false, err
	}
	return ok, nil
}

// Seed registers tokens in the collection. Existing entries are overwritten.
func Seed(ctx context.Context, tokens store.Collection, creds []string) error {
	for _, c := range creds {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if err := tokens.Set(ctx, c, []byte("{}")); err != nil {
			return err
		}
	}
	return nil
}

// ExtractCredential returns the caller credential from the request headers.
// "Authorization: Bearer <t>" wins over Azure-style "api-key: <t>".
func ExtractCredential(ctx *fasthttp.RequestCtx) (string, error) {
	if tok := ParseBearerToken(string(ctx.Request.Header.Peek("Authorization"))); tok != "" {
		return tok, nil
	}
	if tok := strings.TrimSpace(string(ctx.Request.Header.Peek("api-key"))); tok != "" {
		return tok, nil
	}
	return "", ErrNoCredential
}

// ParseBearerToken extracts the token from an "Authorization: Bearer <t>"
// header value. It returns "" for any other scheme.
func ParseBearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
