package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/habitflow/internal/db"
	"github.com/habitflow/internal/service"
)

type registerPayload struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Timezone string `json:"timezone"`
	Theme    string `json:"theme"`
}

type loginPayload struct {
	Login    string `json:"login"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type userUpdatePayload struct {
	Email    *string `json:"email"`
	FullName *string `json:"full_name"`
	Timezone *string `json:"timezone"`
	Theme    *string `json:"theme"`
	Password *string `json:"password"`
}

// Register 注册新用户并直接登录
func (a *API) Register(c *gin.Context) {
	var payload registerPayload
	if !bindJSON(c, &payload, "请求参数不合法") {
		return
	}

	user, err := a.users.Register(service.RegisterInput{
		Username: payload.Username,
		Email:    payload.Email,
		Password: payload.Password,
		FullName: payload.FullName,
		Timezone: payload.Timezone,
		Theme:    payload.Theme,
	})
	if err != nil {
		handleUserError(c, err)
		return
	}

	a.respondSession(c, http.StatusCreated, user)
}

// Login 校验用户名/邮箱和密码，签发令牌并建立会话
func (a *API) Login(c *gin.Context) {
	var payload loginPayload
	if !bindJSON(c, &payload, "请求参数不合法") {
		return
	}

	login := payload.Login
	if login == "" {
		login = payload.Username
	}

	user, err := a.users.Authenticate(login, payload.Password)
	if err != nil {
		handleUserError(c, err)
		return
	}

	a.respondSession(c, http.StatusOK, user)
}

// Logout 清除会话；令牌由客户端丢弃
func (a *API) Logout(c *gin.Context) {
	session := sessions.Default(c)
	session.Clear()
	if err := session.Save(); err != nil {
		respondError(c, http.StatusInternalServerError, "会话保存失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"logged_out": true})
}

// GetCurrentUser 返回当前登录用户资料
func (a *API) GetCurrentUser(c *gin.Context) {
	user, err := a.users.Get(currentUserID(c))
	if err != nil {
		handleUserError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": userToPayload(*user)})
}

// UpdateCurrentUser 部分更新当前用户资料
func (a *API) UpdateCurrentUser(c *gin.Context) {
	var payload userUpdatePayload
	if !bindJSON(c, &payload, "请求参数不合法") {
		return
	}

	user, err := a.users.Update(currentUserID(c), service.UserUpdate{
		Email:    payload.Email,
		FullName: payload.FullName,
		Timezone: payload.Timezone,
		Theme:    payload.Theme,
		Password: payload.Password,
	})
	if err != nil {
		handleUserError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": userToPayload(*user)})
}

// DeactivateCurrentUser 停用当前账号并清除会话
func (a *API) DeactivateCurrentUser(c *gin.Context) {
	user, err := a.users.Deactivate(currentUserID(c))
	if err != nil {
		handleUserError(c, err)
		return
	}

	session := sessions.Default(c)
	session.Clear()
	if err := session.Save(); err != nil {
		respondError(c, http.StatusInternalServerError, "会话保存失败")
		return
	}

	a.log.WithField("user_id", user.ID).Info("user deactivated")
	c.JSON(http.StatusOK, gin.H{"user": userToPayload(*user)})
}

// GetUser 返回指定用户资料，仅本人或超级用户可见
func (a *API) GetUser(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil {
		respondError(c, http.StatusBadRequest, "无效的用户ID")
		return
	}

	user, err := a.users.GetVisible(currentUserID(c), id)
	if err != nil {
		handleUserError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": userToPayload(*user)})
}

func (a *API) respondSession(c *gin.Context, status int, user *db.User) {
	token, err := a.issueToken(user.ID, user.Username)
	if err != nil {
		a.log.WithError(err).Error("issue access token")
		respondError(c, http.StatusInternalServerError, "令牌签发失败")
		return
	}

	session := sessions.Default(c)
	session.Set(sessionUserIDKey, user.ID)
	session.Set(sessionUsernameKey, user.Username)
	if err := session.Save(); err != nil {
		respondError(c, http.StatusInternalServerError, "会话保存失败")
		return
	}

	c.JSON(status, gin.H{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_in":   int(a.tokenTTL / time.Second),
		"user":         userToPayload(*user),
	})
}

func userToPayload(user db.User) gin.H {
	return gin.H{
		"id":           user.ID,
		"username":     user.Username,
		"email":        user.Email,
		"full_name":    user.FullName,
		"timezone":     user.Timezone,
		"theme":        user.Theme,
		"is_active":    user.IsActive,
		"is_superuser": user.IsSuperuser,
		"created_at":   user.CreatedAt.Format(time.RFC3339),
	}
}

func handleUserError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrUserNotFound):
		respondError(c, http.StatusNotFound, "用户不存在")
	case errors.Is(err, service.ErrUserExists):
		respondError(c, http.StatusConflict, "用户名或邮箱已被注册")
	case errors.Is(err, service.ErrInvalidCredentials):
		respondError(c, http.StatusUnauthorized, "用户名或密码错误")
	case errors.Is(err, service.ErrUserForbidden):
		respondError(c, http.StatusForbidden, "无权查看该用户")
	case errors.Is(err, service.ErrUserInactive):
		respondError(c, http.StatusForbidden, "账号已停用")
	case errors.Is(err, service.ErrInvalidUser):
		respondError(c, http.StatusBadRequest, err.Error())
	default:
		respondError(c, http.StatusInternalServerError, "操作失败")
	}
}
