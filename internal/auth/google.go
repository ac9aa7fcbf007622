package auth

import (
	"context"
	"errors"

	"google.golang.org/api/idtoken"
)

var (
	ErrInvalidGoogleToken    = errors.New("invalid google id token")
	ErrGoogleEmailUnverified = errors.New("google account email is not verified")
)

// GoogleProfile 검증된 Google 계정 프로필
type GoogleProfile struct {
	Subject string
	Email   string
	Name    string
	Picture string
}

// GoogleAuthenticator Google ID 토큰 검증기
type GoogleAuthenticator struct {
	clientID string
}

// NewGoogleAuthenticator GoogleAuthenticator 생성
func NewGoogleAuthenticator(clientID string) *GoogleAuthenticator {
	return &GoogleAuthenticator{clientID: clientID}
}

// VerifyIDToken 토큰 서명과 audience를 검증하고 프로필 반환.
// 이메일이 확인되지 않은 계정은 거부한다.
func (g *GoogleAuthenticator) VerifyIDToken(ctx context.Context, idToken string) (*GoogleProfile, error) {
	payload, err := idtoken.Validate(ctx, idToken, g.clientID)
	if err != nil {
		return nil, ErrInvalidGoogleToken
	}

	if verified, _ := payload.Claims["email_verified"].(bool); !verified {
		return nil, ErrGoogleEmailUnverified
	}

	profile := &GoogleProfile{
		Subject: payload.Subject,
		Email:   claimString(payload.Claims, "email"),
		Name:    claimString(payload.Claims, "name"),
		Picture: claimString(payload.Claims, "picture"),
	}
	if profile.Email == "" {
		return nil, ErrInvalidGoogleToken
	}

	return profile, nil
}

func claimString(claims map[string]interface{}, key string) string {
	val, _ := claims[key].(string)
	return val
}
