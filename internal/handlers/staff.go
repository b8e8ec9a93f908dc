package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"schoolfund/internal/models"
)

type StaffHandler struct {
	DB *sqlx.DB
}

func NewStaffHandler(db *sqlx.DB) *StaffHandler {
	return &StaffHandler{DB: db}
}

// GetMyProfile returns the authenticated staff member's dashboard profile,
// including the widget secret token for the live-alert overlay.
func (h *StaffHandler) GetMyProfile(c *gin.Context) {
	userIDAny, exists := c.Get("userID")
	if !exists {
		log.Println("UserID not found in context")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Server error: UserID not found"})
		return
	}

	userID, ok := userIDAny.(int)
	if !ok {
		log.Println("UserID in context is not an int")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Server error: UserID invalid format"})
		return
	}

	var profile models.StaffProfile
	query := `SELECT id, user_id, username, display_name, widget_secret_token
	          FROM staff_profiles WHERE user_id = $1`
	err := h.DB.Get(&profile, query, userID)
	if err != nil {
		log.Println("Failed to get staff profile:", err)
		c.JSON(http.StatusNotFound, gin.H{"error": "Staff profile not found"})
		return
	}

	c.JSON(http.StatusOK, profile)
}
