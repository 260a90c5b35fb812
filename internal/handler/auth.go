package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/habitflow/internal/service"
)

const (
	sessionUserIDKey   = "user_id"
	sessionUsernameKey = "username"
	contextUserIDKey   = "habitflow.user_id"
	tokenIssuer        = "habitflow"
)

var errInvalidToken = errors.New("invalid access token")

// accessClaims 为访问令牌的载荷，Subject 保存用户 ID
type accessClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// issueToken 签发 HS256 访问令牌
func (a *API) issueToken(userID uint, username string) (string, error) {
	now := a.now()
	claims := accessClaims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(userID), 10),
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.tokenTTL)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// parseToken 校验签名与有效期并返回用户 ID
func (a *API) parseToken(raw string) (uint, error) {
	token, err := jwt.ParseWithClaims(raw, &accessClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return a.jwtSecret, nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithTimeFunc(a.now))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errInvalidToken, err)
	}

	claims, ok := token.Claims.(*accessClaims)
	if !ok || !token.Valid {
		return 0, errInvalidToken
	}

	id, err := strconv.ParseUint(claims.Subject, 10, 32)
	if err != nil || id == 0 {
		return 0, errInvalidToken
	}
	return uint(id), nil
}

// AuthRequired 校验 Bearer 令牌或会话，确认账号仍然有效后把用户 ID 写入上下文
func (a *API) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		var userID uint
		if header := c.GetHeader("Authorization"); header != "" {
			raw, found := strings.CutPrefix(header, "Bearer ")
			if !found {
				respondError(c, http.StatusUnauthorized, "认证格式无效")
				c.Abort()
				return
			}
			id, err := a.parseToken(strings.TrimSpace(raw))
			if err != nil {
				respondError(c, http.StatusUnauthorized, "令牌无效或已过期")
				c.Abort()
				return
			}
			userID = id
		} else {
			id, ok := sessions.Default(c).Get(sessionUserIDKey).(uint)
			if !ok || id == 0 {
				respondError(c, http.StatusUnauthorized, "请先登录")
				c.Abort()
				return
			}
			userID = id
		}

		user, err := a.users.Get(userID)
		switch {
		case errors.Is(err, service.ErrUserNotFound):
			respondError(c, http.StatusUnauthorized, "用户不存在")
			c.Abort()
			return
		case err != nil:
			a.log.WithError(err).WithField("user_id", userID).Error("load authenticated user")
			respondError(c, http.StatusInternalServerError, "认证失败")
			c.Abort()
			return
		case !user.IsActive:
			respondError(c, http.StatusForbidden, "账号已停用")
			c.Abort()
			return
		}

		c.Set(contextUserIDKey, userID)
		c.Next()
	}
}

// currentUserID 返回认证中间件写入的用户 ID
func currentUserID(c *gin.Context) uint {
	if value, exists := c.Get(contextUserIDKey); exists {
		if id, ok := value.(uint); ok {
			return id
		}
	}
	return 0
}
