package controllers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type HealthController struct {
	service string
}

func NewHealthController(service string) *HealthController {
	return &HealthController{service: service}
}

func (hc *HealthController) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "OK"})
}

// Root is the service banner.
func (hc *HealthController) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message":   hc.service + " is running",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"routes":    []string{"/health", "/products", "/products/:id"},
	})
}
