package handlers

import (
	"database/sql"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"

	"schoolfund/internal/models"
)

// AuthHandler manages staff accounts for the donation dashboard. Donors
// never authenticate; donations are anonymous-capable.
type AuthHandler struct {
	DB        *sqlx.DB
	JwtSecret string
}

func NewAuthHandler(db *sqlx.DB, jwtSecret string) *AuthHandler {
	return &AuthHandler{DB: db, JwtSecret: jwtSecret}
}

type RegisterRequest struct {
	Email       string `json:"email" binding:"required,email"`
	Password    string `json:"password" binding:"required,min=8"`
	Username    string `json:"username" binding:"required,min=3"`
	DisplayName string `json:"display_name" binding:"required"`
}

// Register creates a staff user plus their dashboard profile in one
// transaction: both rows land, or neither does.
func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		log.Println("Password hashing error:", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Server error, please try again."})
		return
	}

	// The widget token authenticates the live-alert overlay without a JWT.
	widgetToken := uuid.NewString()

	tx, err := h.DB.Beginx()
	if err != nil {
		log.Println("Failed to begin transaction:", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Server error."})
		return
	}
	defer tx.Rollback()

	var newUser models.User
	userQuery := `INSERT INTO users (email, password_hash)
	              VALUES ($1, $2)
	              RETURNING id, email, created_at, updated_at`
	err = tx.Get(&newUser, userQuery, req.Email, string(passwordHash))
	if err != nil {
		log.Println("Failed to insert new user:", err)
		c.JSON(http.StatusConflict, gin.H{"error": "Email or username may already be in use."})
		return
	}

	profileQuery := `INSERT INTO staff_profiles (user_id, username, display_name, widget_secret_token)
	                 VALUES ($1, $2, $3, $4)`
	_, err = tx.Exec(profileQuery, newUser.ID, req.Username, req.DisplayName, widgetToken)
	if err != nil {
		log.Println("Failed to insert new staff profile:", err)
		c.JSON(http.StatusConflict, gin.H{"error": "Email or username may already be in use."})
		return
	}

	if err := tx.Commit(); err != nil {
		log.Println("Failed to commit transaction:", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Server error."})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message":  "User created successfully.",
		"user_id":  newUser.ID,
		"email":    newUser.Email,
		"username": req.Username,
	})
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

func (h *AuthHandler) createJWT(user models.User) (string, error) {
	claims := jwt.MapClaims{
		"sub":   user.ID,
		"email": user.Email,
		"iat":   time.Now().Unix(),
		"exp":   time.Now().Add(time.Hour * 24 * 7).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(h.JwtSecret))
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	var user models.User
	query := `SELECT id, email, password_hash FROM users WHERE email = $1`
	err := h.DB.Get(&user, query, req.Email)
	if err != nil {
		if err == sql.ErrNoRows {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password."})
			return
		}
		log.Println("Database error on login:", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Server error."})
		return
	}

	err = bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password."})
		return
	}

	tokenString, err := h.createJWT(user)
	if err != nil {
		log.Println("Failed to create JWT:", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Server error."})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Login successful.", "token": tokenString})
}
