package api

import (
	"errors"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"copytrading-core/pkg/db"
)

const (
	userContextKey = "UserID"
	tokenTTL       = 72 * time.Hour
)

// UserClaims is the JWT payload for an authenticated user.
type UserClaims struct {
	UserID string `json:"uid"`
	jwt.RegisteredClaims
}

// credentials is the shared register/login request body. normalize trims
// whitespace and enforces the required fields; register additionally checks
// the address shape.
type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (cr *credentials) normalize() error {
	cr.Email = strings.TrimSpace(strings.ToLower(cr.Email))
	if cr.Email == "" || cr.Password == "" {
		return errors.New("email and password are required")
	}
	return nil
}

func authError(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"code": code, "error": msg})
}

func issueToken(userID, secret string) (token string, expiresAt time.Time, err error) {
	now := time.Now()
	expiresAt = now.Add(tokenTTL)
	claims := UserClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	return token, expiresAt, err
}

func verifyToken(raw, secret string) (string, error) {
	token, err := jwt.ParseWithClaims(raw, &UserClaims{},
		func(*jwt.Token) (interface{}, error) { return []byte(secret), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(*UserClaims)
	if !ok || !token.Valid || claims.UserID == "" {
		return "", errors.New("invalid token claims")
	}
	return claims.UserID, nil
}

// AuthMiddleware enforces bearer-token auth on the trading routes.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			authError(c, http.StatusUnauthorized, "MISSING_TOKEN", "missing Authorization header")
			return
		}
		scheme, raw, found := strings.Cut(header, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") {
			authError(c, http.StatusUnauthorized, "INVALID_AUTH_HEADER", "invalid Authorization header")
			return
		}

		userID, err := verifyToken(raw, secret)
		if err != nil {
			authError(c, http.StatusUnauthorized, "INVALID_TOKEN", "invalid or expired token")
			return
		}

		c.Set(userContextKey, userID)
		c.Next()
	}
}

// CurrentUserID returns the authenticated user id set by AuthMiddleware.
func CurrentUserID(c *gin.Context) string {
	if v, ok := c.Get(userContextKey); ok {
		if id, okCast := v.(string); okCast {
			return id
		}
	}
	return ""
}

func (s *Server) registerUser(c *gin.Context) {
	var req credentials
	if err := c.BindJSON(&req); err != nil {
		authError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid request payload")
		return
	}
	if err := req.normalize(); err != nil {
		authError(c, http.StatusBadRequest, "MISSING_CREDENTIALS", err.Error())
		return
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		authError(c, http.StatusBadRequest, "INVALID_EMAIL", "invalid email format")
		return
	}

	ctx := c.Request.Context()
	switch _, err := s.DB.GetUserByEmail(ctx, req.Email); {
	case err == nil:
		authError(c, http.StatusConflict, "EMAIL_ALREADY_REGISTERED", "email already registered")
		return
	case !errors.Is(err, db.ErrNotFound):
		authError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		authError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to hash password")
		return
	}

	now := time.Now()
	user := db.User{
		ID:           uuid.NewString(),
		Email:        req.Email,
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.DB.CreateUser(ctx, user); err != nil {
		authError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"user_id": user.ID,
		"email":   user.Email,
	})
}

func (s *Server) loginUser(c *gin.Context) {
	var req credentials
	if err := c.BindJSON(&req); err != nil {
		authError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid request payload")
		return
	}
	if err := req.normalize(); err != nil {
		authError(c, http.StatusBadRequest, "MISSING_CREDENTIALS", err.Error())
		return
	}

	ctx := c.Request.Context()
	user, err := s.DB.GetUserByEmail(ctx, req.Email)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		authError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	// Unknown email and wrong password answer identically so the endpoint
	// does not leak which addresses exist.
	if err != nil || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		authError(c, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid credentials")
		return
	}

	token, expiresAt, err := issueToken(user.ID, s.JWTSecret)
	if err != nil {
		authError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to generate token")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_at": expiresAt.UTC().Format(time.RFC3339),
		"user_id":    user.ID,
		"email":      user.Email,
	})
}
