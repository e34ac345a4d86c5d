package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog"
	"google.golang.org/api/idtoken"
)

// TokenValidator checks a Google-signed OIDC token for the given audience.
type TokenValidator func(ctx context.Context, token, audience string) (*idtoken.Payload, error)

// PushVerifier admits Pub/Sub push deliveries signed for one service account.
type PushVerifier struct {
	Audience      string
	ExpectedEmail string
	Validate      TokenValidator
}

var (
	errPushUnauthenticated = errors.New("missing or malformed push token")
	errPushEmail           = errors.New("push token not issued to the expected service account")
)

// Verify returns the verified service-account email of a push request.
func (v PushVerifier) Verify(r *http.Request) (string, error) {
	token, ok := bearerToken(r)
	if !ok {
		return "", errPushUnauthenticated
	}
	validate := v.Validate
	if validate == nil {
		validate = idtoken.Validate
	}
	payload, err := validate(r.Context(), token, v.Audience)
	if err != nil {
		return "", err
	}
	email, _ := payload.Claims["email"].(string)
	verified, _ := payload.Claims["email_verified"].(bool)
	if email == "" || !verified || email != v.ExpectedEmail {
		return email, errPushEmail
	}
	return email, nil
}

// PubSubAuthMiddleware guards the lifecycle push routes with the OIDC token
// Pub/Sub attaches to each delivery. skip disables the check for the emulator.
func PubSubAuthMiddleware(skip bool, audience, expectedEmail string, logger zerolog.Logger) func(http.Handler) http.Handler {
	return PushAuthMiddleware(skip, PushVerifier{Audience: audience, ExpectedEmail: expectedEmail}, logger)
}

func PushAuthMiddleware(skip bool, v PushVerifier, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip {
				logger.Debug().Msg("Skipping Pub/Sub authentication for local environment")
				next.ServeHTTP(w, r)
				return
			}
			if v.Audience == "" || v.ExpectedEmail == "" {
				logger.Error().Msg("Pub/Sub push auth configured without an audience or service account; denying")
				http.Error(w, "Configuration error: audience or email not set", http.StatusInternalServerError)
				return
			}

			email, err := v.Verify(r)
			switch {
			case err == nil:
				logger.Debug().Str("email", email).Str("path", r.URL.Path).Msg("Authenticated Pub/Sub push request")
				next.ServeHTTP(w, r)
			case errors.Is(err, errPushEmail):
				logger.Warn().Str("token_email", email).Str("expected_email", v.ExpectedEmail).Msg("Pub/Sub push from unexpected identity")
				http.Error(w, "Forbidden: token email does not match expected service account", http.StatusForbidden)
			default:
				logger.Warn().Err(err).Msg("Rejected Pub/Sub push request")
				http.Error(w, "Unauthorized: invalid token", http.StatusUnauthorized)
			}
		})
	}
}
