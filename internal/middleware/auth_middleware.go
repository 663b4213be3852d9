package middleware

import (
	"strings"

	"go-branch-transfer/internal/model"
	"go-branch-transfer/internal/repository"
	"go-branch-transfer/pkg/jwt"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// RequireAuth is middleware that validates JWT token and sets the actor in context
func RequireAuth(userRepo repository.UserRepository) fiber.Handler {
	return func(c *fiber.Ctx) error {
		// Get Authorization header
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(401).JSON(fiber.Map{"error": "Missing authorization token"})
		}

		// Extract token from "Bearer <token>"
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			return c.Status(401).JSON(fiber.Map{"error": "Invalid authorization format. Use: Bearer <token>"})
		}

		tokenString := parts[1]

		// Validate token
		claims, err := jwt.ValidateToken(tokenString)
		if err != nil {
			return c.Status(401).JSON(fiber.Map{"error": "Invalid or expired token"})
		}

		// Check strict session against DB
		user, err := userRepo.FindByID(claims.UserID)
		if err != nil {
			return c.Status(401).JSON(fiber.Map{"error": "User not found"})
		}

		if user.TokenVersion != claims.TokenVersion {
			return c.Status(401).JSON(fiber.Map{"error": "Session expired (logged in on another device)"})
		}

		// Set actor in context for downstream handlers
		c.Locals("actor", model.Actor{
			UserID:   claims.UserID,
			Name:     claims.Name,
			Email:    claims.Email,
			Role:     claims.RoleCode,
			BranchID: claims.BranchID,
		})

		return c.Next()
	}
}

// ActorFromContext returns the actor placed in the request context by
// RequireAuth. A zero actor means the route was not authenticated.
func ActorFromContext(c *fiber.Ctx) model.Actor {
	actor, ok := c.Locals("actor").(model.Actor)
	if !ok {
		return model.Actor{}
	}
	return actor
}

// RequireRole checks that the authenticated user carries one of the given role codes
func RequireRole(codes ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor := ActorFromContext(c)
		if actor.UserID == uuid.Nil {
			return c.Status(403).JSON(fiber.Map{"error": "No role found"})
		}

		for _, code := range codes {
			if actor.Role == code {
				return c.Next()
			}
		}

		return c.Status(403).JSON(fiber.Map{
			"error": "Forbidden: requires one of " + strings.Join(codes, ", ") + " roles",
		})
	}
}
