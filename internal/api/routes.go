package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v79"

	"studypal_go_backend/internal/auth"
	apperrors "studypal_go_backend/internal/errors"
	"studypal_go_backend/internal/ledger"
	"studypal_go_backend/internal/models"
	"studypal_go_backend/internal/plans"
	"studypal_go_backend/internal/services"
	"studypal_go_backend/internal/tutor"
	"studypal_go_backend/internal/utils/broker"
	"studypal_go_backend/internal/wsocket"
)

const (
	supportRequestLimit  = 3
	supportRequestWindow = time.Hour
)

func SetupRoutes(
	r *gin.Engine,
	store ledger.Store,
	manager *tutor.Manager,
	chats services.ChatStore,
	userService *services.UserService,
	stripeService *services.StripeService,
	mailer services.Mailer,
	limiter RateLimitStore,
	wsHandler *wsocket.Handler,
	messageBroker *broker.Broker,
	jwtSecret string,
	log zerolog.Logger,
) {
	api := r.Group("/api")
	{
		api.GET("/plans", getPlans)
		api.GET("/usage", auth.OptionalMiddleware(userService, jwtSecret), getUsageHandler(store))
		api.GET("/chat/history", auth.Middleware(userService, jwtSecret), getChatHistoryHandler(chats))
		api.DELETE("/chat/:session_id", auth.Middleware(userService, jwtSecret), deleteChatHandler(chats))
		api.POST("/billing/checkout", auth.Middleware(userService, jwtSecret), createCheckoutHandler(stripeService))
		api.POST("/stripe/webhook", stripeWebhookHandler(stripeService, userService, manager, messageBroker, log))
		api.POST("/support/contact", supportContactHandler(mailer, limiter, log))
	}

	r.GET("/ws", auth.OptionalMiddleware(userService, jwtSecret), func(c *gin.Context) {
		identity, plan, err := auth.CurrentIdentity(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		wsHandler.HandleWebSocket(c.Writer, c.Request, identity, plan, messageBroker)
	})
}

func getPlans(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"plans": plans.Catalog()})
}

func getUsageHandler(store ledger.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, plan, err := auth.CurrentIdentity(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		usage, err := store.GetUsage(c.Request.Context(), identity, plan)
		if err != nil {
			apperrors.HandleError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"plan": plan, "usage": usage})
	}
}

func getChatHistoryHandler(chats services.ChatStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, exists := c.Get("user")
		if !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "User not found in context"})
			return
		}
		userModel := user.(*models.User)

		records, err := chats.GetChatsByUserID(userModel.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to retrieve chat history: %v", err)})
			return
		}

		var chatHistory []gin.H
		for _, chat := range records {
			messages := make([]gin.H, len(chat.Messages))
			for i, msg := range chat.Messages {
				messages[i] = gin.H{
					"type":      msg.Type,
					"content":   msg.Content,
					"image_url": msg.ImageURL,
					"timestamp": msg.Timestamp.Format(time.RFC3339),
				}
			}

			chatHistory = append(chatHistory, gin.H{
				"session_id": chat.SessionID,
				"messages":   messages,
				"created_at": chat.CreatedAt.Format(time.RFC3339),
			})
		}

		c.JSON(http.StatusOK, gin.H{"chat_history": chatHistory})
	}
}

func deleteChatHandler(chats services.ChatStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, _ := c.Get("user")
		userModel := user.(*models.User)
		sessionID := c.Param("session_id")

		chat, err := chats.GetChatBySessionID(sessionID)
		if err != nil {
			apperrors.HandleError(c, apperrors.New404Error("Chat not found"))
			return
		}
		if chat.UserID != userModel.ID {
			apperrors.HandleError(c, apperrors.New403Error("Chat belongs to another user"))
			return
		}

		if err := chats.DeleteChatBySessionID(sessionID); err != nil {
			apperrors.HandleError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"deleted": sessionID})
	}
}

func createCheckoutHandler(stripeService *services.StripeService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var request struct {
			Plan string `json:"plan" binding:"required"`
		}
		if err := c.ShouldBindJSON(&request); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		plan := plans.Parse(request.Plan)
		if !plan.Paid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Plan is not purchasable"})
			return
		}

		user, _ := c.Get("user")
		userModel := user.(*models.User)

		session, err := stripeService.CreateSubscriptionCheckout(userModel.ID.String(), plan)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create checkout session"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"session_id": session.ID, "url": session.URL})
	}
}

func stripeWebhookHandler(
	stripeService *services.StripeService,
	userService *services.UserService,
	manager *tutor.Manager,
	messageBroker *broker.Broker,
	log zerolog.Logger,
) gin.HandlerFunc {
	return func(c *gin.Context) {
		const MaxBodyBytes = int64(65536)
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxBodyBytes)

		payload, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Error reading request body"})
			return
		}

		signatureHeader := c.GetHeader("Stripe-Signature")
		event, err := stripeService.HandleWebhook(payload, signatureHeader)
		if err != nil {
			log.Warn().Err(err).Msg("stripe webhook signature verification failed")
			c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to verify webhook signature"})
			return
		}

		switch event.Type {
		case "checkout.session.completed":
			var session stripe.CheckoutSession
			if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to parse checkout session"})
				return
			}
			if err := processCheckoutCompleted(session, userService, manager, messageBroker, log); err != nil {
				log.Error().Err(err).Msg("failed to apply checkout session")
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process checkout session"})
				return
			}

		case "customer.subscription.deleted":
			var sub stripe.Subscription
			if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to parse subscription"})
				return
			}
			if err := processSubscriptionDeleted(sub, userService, manager, messageBroker, log); err != nil {
				log.Error().Err(err).Msg("failed to apply subscription cancellation")
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process cancellation"})
				return
			}

		default:
			log.Debug().Str("type", string(event.Type)).Msg("unhandled stripe event")
		}

		c.JSON(http.StatusOK, gin.H{"received": true})
	}
}

func processCheckoutCompleted(
	session stripe.CheckoutSession,
	userService *services.UserService,
	manager *tutor.Manager,
	messageBroker *broker.Broker,
	log zerolog.Logger,
) error {
	userID, err := uuid.Parse(session.ClientReferenceID)
	if err != nil {
		return fmt.Errorf("invalid user ID: %v", err)
	}

	plan := plans.Parse(session.Metadata["plan"])
	if !plan.Paid() {
		return fmt.Errorf("checkout session for unknown plan %q", session.Metadata["plan"])
	}

	if err := userService.UpdatePlan(userID, plan); err != nil {
		return fmt.Errorf("failed to update plan: %v", err)
	}
	if session.Customer != nil {
		if err := userService.SetStripeCustomerID(userID, session.Customer.ID); err != nil {
			log.Warn().Err(err).Msg("failed to store stripe customer id")
		}
	}

	updated := manager.UpdatePlanForUser(userID, plan)
	messageBroker.Publish("plan_update_"+userID.String(), string(plan))
	log.Info().Str("user_id", userID.String()).Str("plan", string(plan)).Int("live_sessions", updated).Msg("plan upgraded")
	return nil
}

func processSubscriptionDeleted(
	sub stripe.Subscription,
	userService *services.UserService,
	manager *tutor.Manager,
	messageBroker *broker.Broker,
	log zerolog.Logger,
) error {
	if sub.Customer == nil {
		return fmt.Errorf("subscription event without customer")
	}

	user, err := userService.GetUserByStripeCustomerID(sub.Customer.ID)
	if err != nil {
		return fmt.Errorf("no user for stripe customer %s: %v", sub.Customer.ID, err)
	}

	if err := userService.UpdatePlan(user.ID, plans.Free); err != nil {
		return fmt.Errorf("failed to downgrade plan: %v", err)
	}

	manager.UpdatePlanForUser(user.ID, plans.Free)
	messageBroker.Publish("plan_update_"+user.ID.String(), string(plans.Free))
	log.Info().Str("user_id", user.ID.String()).Msg("subscription cancelled, plan downgraded")
	return nil
}

func supportContactHandler(mailer services.Mailer, limiter RateLimitStore, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var request struct {
			Name    string `json:"name" binding:"required"`
			Email   string `json:"email" binding:"required,email"`
			Subject string `json:"subject" binding:"required"`
			Message string `json:"message" binding:"required"`
		}
		if err := c.ShouldBindJSON(&request); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if !limiter.Allow(request.Email, supportRequestLimit, supportRequestWindow) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many support requests, please try again later"})
			return
		}

		if err := mailer.SendSupportRequest(request.Name, request.Email, request.Subject, request.Message); err != nil {
			log.Error().Err(err).Msg("failed to send support request")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to send support request"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"sent": true})
	}
}
