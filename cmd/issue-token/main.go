package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/service"
	"golang.org/x/term"
)

// defaultSecret matches the development fallback in config.Load.
const defaultSecret = "change-this-to-a-secure-random-string"

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── CLI Input ─────────────────────────────────────────────────────
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("=== Issue Proctor Token ===")

	// Token type
	fmt.Print("Token type (learner/educator) [learner]: ")
	rawType, _ := reader.ReadString('\n')
	tokenType := service.TokenType(strings.ToLower(strings.TrimSpace(rawType)))
	if tokenType == "" {
		tokenType = service.TokenTypeLearner
	}
	if !tokenType.Valid() {
		fmt.Println("Error: Token type must be learner or educator")
		return
	}

	// User ID
	fmt.Print("Enter User ID: ")
	userID, _ := reader.ReadString('\n')
	userID = strings.TrimSpace(userID)
	if userID == "" {
		fmt.Println("Error: User ID is required")
		return
	}

	// Wallet
	wallet := ""
	if tokenType == service.TokenTypeLearner {
		fmt.Print("Wallet address (optional): ")
		wallet, _ = reader.ReadString('\n')
		wallet = strings.TrimSpace(wallet)
	}

	// TTL
	fmt.Printf("Validity in hours [%d]: ", int(cfg.JWTExpiry.Hours()))
	rawTTL, _ := reader.ReadString('\n')
	ttl := cfg.JWTExpiry
	if rawTTL = strings.TrimSpace(rawTTL); rawTTL != "" {
		hours, err := strconv.Atoi(rawTTL)
		if err != nil || hours <= 0 {
			fmt.Println("Error: Validity must be a positive number of hours")
			return
		}
		ttl = time.Duration(hours) * time.Hour
	}

	// Secret, prompted when the environment only has the dev fallback.
	if cfg.JWTSecret == defaultSecret {
		fmt.Print("Enter JWT secret (blank keeps the dev default): ")
		byteSecret, err := term.ReadPassword(int(syscall.Stdin))
		if err != nil {
			fmt.Println("\nError reading secret")
			return
		}
		fmt.Println() // Newline after secret input
		if s := strings.TrimSpace(string(byteSecret)); s != "" {
			cfg.JWTSecret = s
		}
	}

	authService := service.NewAuthService(cfg)
	token, err := authService.IssueToken(tokenType, userID, wallet, ttl)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	fmt.Println()
	fmt.Println(token)
}
