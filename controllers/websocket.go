package controllers

import (
	"tuitionledger/database"
	"tuitionledger/middleware"
	"tuitionledger/models"
	"tuitionledger/services/websocket"

	"github.com/gofiber/fiber/v2"
	fiberws "github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"
)

type WebSocketController struct {
	hub *websocket.Hub
}

func NewWebSocketController(hub *websocket.Hub) *WebSocketController {
	return &WebSocketController{hub: hub}
}

// Upgrade rejects plain HTTP requests before the websocket handler runs
func (wsc *WebSocketController) Upgrade(c *fiber.Ctx) error {
	if !fiberws.IsWebSocketUpgrade(c) {
		return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{
			"error": "Use the WebSocket endpoint: ws://<host>/ws?token=YOUR_JWT",
		})
	}
	return c.Next()
}

// WebSocketHandler authenticates ?token= and attaches the connection to the hub
func (wsc *WebSocketController) WebSocketHandler() fiber.Handler {
	return fiberws.New(func(c *fiberws.Conn) {
		token := c.Query("token")
		if token == "" {
			c.WriteMessage(fiberws.CloseMessage, fiberws.FormatCloseMessage(fiberws.ClosePolicyViolation, "missing token"))
			c.Close()
			return
		}

		claims, err := middleware.ParseToken(token)
		if err != nil {
			c.WriteMessage(fiberws.CloseMessage, fiberws.FormatCloseMessage(fiberws.ClosePolicyViolation, "invalid token"))
			c.Close()
			return
		}

		var user models.User
		if err := database.DB.Where("id = ? AND status = ?", claims.UserID, "active").First(&user).Error; err != nil {
			c.WriteMessage(fiberws.CloseMessage, fiberws.FormatCloseMessage(fiberws.ClosePolicyViolation, "user inactive"))
			c.Close()
			return
		}

		logrus.WithFields(logrus.Fields{"user_id": user.ID, "username": user.Username}).Info("WebSocket connection established")
		wsc.hub.ServeFiberWS(c, user.ID)
	})
}

// GetWebSocketStats returns connection statistics (owner/admin)
func (wsc *WebSocketController) GetWebSocketStats(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"connected_clients": wsc.hub.GetClientCount(),
		"status":            "active",
	})
}
