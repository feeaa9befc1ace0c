package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt"
)

const tokenTTL = 3 * time.Hour

// JWTAuth issues and verifies HS256 tokens signed with the application secret.
type JWTAuth struct {
	Key []byte
}

// TokenClaims identify the user a token was issued for.
type TokenClaims struct {
	UserID int64  `json:"user_id"`
	Email  string `json:"email"`
	ComID  int64  `json:"com_id,omitempty"`
	jwt.StandardClaims
}

var (
	ErrTokenExpired   = errors.New("token has expired")
	ErrTokenMalformed = errors.New("malformed token")
)

func NewJWTAuth(secret string) *JWTAuth {
	return &JWTAuth{Key: []byte(secret)}
}

// GenerateJWT signs a token for the user that expires after three hours.
func (j *JWTAuth) GenerateJWT(userID int64, email string, comID int64) (string, error) {
	if len(j.Key) == 0 {
		return "", errors.New("empty jwt key")
	}
	now := time.Now()
	claims := TokenClaims{
		UserID: userID,
		Email:  email,
		ComID:  comID,
		StandardClaims: jwt.StandardClaims{
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(tokenTTL).Unix(),
			Issuer:    "bizpilot",
			Subject:   email,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.Key)
}

// VerifyJWT parses tokenString and returns its claims.
func (j *JWTAuth) VerifyJWT(tokenString string) (*TokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &TokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.Key, nil
	})
	if err != nil {
		var ve *jwt.ValidationError
		if errors.As(err, &ve) && ve.Errors&jwt.ValidationErrorExpired != 0 {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenMalformed
	}
	claims, ok := token.Claims.(*TokenClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenMalformed
	}
	return claims, nil
}

// OptionalAuth sets user_id and email locals when a valid bearer token is present. Requests
// without an Authorization header pass through as anonymous; bad tokens are rejected.
func (j *JWTAuth) OptionalAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		h := strings.TrimSpace(c.Get("Authorization"))
		if h == "" || !strings.HasPrefix(strings.ToLower(h), "bearer ") {
			return c.Next()
		}
		claims, err := j.VerifyJWT(strings.TrimSpace(h[len("bearer "):]))
		if err != nil {
			code := "jwt_malformed"
			if errors.Is(err, ErrTokenExpired) {
				code = "jwt_expired"
			}
			return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"code": code, "message": err.Error()})
		}
		c.Locals("user_id", claims.UserID)
		c.Locals("email", claims.Email)
		if claims.ComID != 0 {
			c.Locals("com_id", claims.ComID)
		}
		return c.Next()
	}
}

// UserID returns the authenticated user id, if any.
func UserID(c *fiber.Ctx) (int64, bool) {
	if v, ok := c.Locals("user_id").(int64); ok && v != 0 {
		return v, true
	}
	return 0, false
}

// ComID returns the company carried by the token, if any.
func ComID(c *fiber.Ctx) (int64, bool) {
	if v, ok := c.Locals("com_id").(int64); ok && v != 0 {
		return v, true
	}
	return 0, false
}
