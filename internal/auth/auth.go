package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt"

	"studypal_go_backend/internal/ledger"
	"studypal_go_backend/internal/models"
	"studypal_go_backend/internal/plans"
	"studypal_go_backend/internal/services"
)

// DeviceIDHeader carries the client-minted id that keys anonymous usage.
const DeviceIDHeader = "X-Device-ID"

func SetupRoutes(r *gin.Engine, userService *services.UserService, jwtSecret string) {
	auth := r.Group("/auth")
	{
		auth.GET("/user", Middleware(userService, jwtSecret), getUser)
	}
}

// Middleware requires a valid bearer token and loads the user into the
// context.
func Middleware(userService *services.UserService, jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := userFromRequest(c, userService, jwtSecret)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			c.Abort()
			return
		}
		c.Set("user", user)
		c.Next()
	}
}

// OptionalMiddleware resolves either a signed-in user or an anonymous device.
// Requests with a bearer token are authenticated as usual; requests with only
// a device id pass through anonymously; requests with neither are rejected.
func OptionalMiddleware(userService *services.UserService, jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") != "" {
			user, err := userFromRequest(c, userService, jwtSecret)
			if err != nil {
				c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
				c.Abort()
				return
			}
			c.Set("user", user)
			c.Next()
			return
		}

		deviceID := c.GetHeader(DeviceIDHeader)
		if deviceID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization or " + DeviceIDHeader + " header is required"})
			c.Abort()
			return
		}
		c.Set("device_id", deviceID)
		c.Next()
	}
}

// CurrentIdentity returns the caller's ledger identity and plan. Anonymous
// devices are always on the free plan.
func CurrentIdentity(c *gin.Context) (ledger.Identity, plans.Plan, error) {
	if value, exists := c.Get("user"); exists {
		user, ok := value.(*models.User)
		if !ok {
			return ledger.Identity{}, plans.Free, errors.New("invalid user type in context")
		}
		return ledger.Identity{UserID: user.ID}, plans.Parse(user.PlanType), nil
	}
	if deviceID := c.GetString("device_id"); deviceID != "" {
		return ledger.Identity{DeviceID: deviceID}, plans.Free, nil
	}
	return ledger.Identity{}, plans.Free, errors.New("no identity in context")
}

func userFromRequest(c *gin.Context, userService *services.UserService, jwtSecret string) (*models.User, error) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return nil, errors.New("Authorization header is required")
	}

	bearerToken := strings.Split(authHeader, " ")
	if len(bearerToken) != 2 {
		return nil, errors.New("invalid authorization header")
	}

	claims, err := verifyToken(bearerToken[1], jwtSecret)
	if err != nil {
		return nil, err
	}

	authID, _ := claims["sub"].(string)
	email, _ := claims["email"].(string)
	name, _ := claims["name"].(string)
	if authID == "" {
		return nil, errors.New("token has no subject")
	}

	user, err := userService.CreateOrUpdateUser(authID, email, name)
	if err != nil {
		return nil, errors.New("failed to process user information")
	}
	return user, nil
}

func verifyToken(tokenString, secret string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}

func getUser(c *gin.Context) {
	user, exists := c.Get("user")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not found in context"})
		return
	}
	c.JSON(http.StatusOK, user)
}
