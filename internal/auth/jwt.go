package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Sensor fleet tokens. Registration hands a device an HS256 pair and
// the access token rides the Authorization header on every mark and
// register call.

var (
	// ErrInvalidToken covers malformed, mis-signed and expired tokens.
	ErrInvalidToken = errors.New("invalid token")
	// ErrIssuerMismatch means the token came from a different deployment.
	ErrIssuerMismatch = errors.New("issuer mismatch")
)

// RoleDevice is the role baked into sensor tokens.
const RoleDevice = "device"

// TokenPair is what a device receives at registration.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	AccessExp    time.Time
	RefreshExp   time.Time
}

// DeviceClaims is the JWT payload for a registered device.
type DeviceClaims struct {
	DeviceID string `json:"device_id"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

func sign(deviceID, role, issuer, key string, exp time.Time) (string, error) {
	claims := DeviceClaims{
		DeviceID: deviceID,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   deviceID,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
}

// Issue signs an access and refresh token pair for a device.
func Issue(deviceID, role, issuer, key string, accessTTL, refreshTTL time.Duration) (TokenPair, error) {
	accessExp := time.Now().Add(accessTTL)
	refreshExp := time.Now().Add(refreshTTL)

	accessToken, err := sign(deviceID, role, issuer, key, accessExp)
	if err != nil {
		return TokenPair{}, err
	}
	refreshToken, err := sign(deviceID, role, issuer, key, refreshExp)
	if err != nil {
		return TokenPair{}, err
	}

	return TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		AccessExp:    accessExp,
		RefreshExp:   refreshExp,
	}, nil
}

// Parse validates a device token and returns its claims.
func Parse(tokenStr, key, issuer string) (DeviceClaims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &DeviceClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return []byte(key), nil
	})
	if err != nil {
		return DeviceClaims{}, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*DeviceClaims)
	if !ok || !parsed.Valid {
		return DeviceClaims{}, ErrInvalidToken
	}
	if issuer != "" && claims.Issuer != issuer {
		return DeviceClaims{}, ErrIssuerMismatch
	}
	return *claims, nil
}
