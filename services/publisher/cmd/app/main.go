package main

import (
	"ai-influencer/pkg/config"
	app "ai-influencer/services/publisher/internal/app"

	_ "ai-influencer/services/publisher/docs" // Swagger docs
)

// @title           Publisher Service API
// @version         1.0
// @description     Publishing orchestrator for AI persona accounts: rate-limited, idempotent posting to social platforms with scheduled queue, retry and reconciliation sweeps.
// @termsOfService  http://swagger.io/terms/

// @contact.name   API Support
// @contact.url    http://www.swagger.io/support
// @contact.email  support@swagger.io

// @license.name  Apache 2.0
// @license.url   http://www.apache.org/licenses/LICENSE-2.0.html

// @host      localhost:8080
// @BasePath  /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	// Validate JWT_SECRET for services that use JWT
	if cfg.JWTSecret == "your-secret-key-change-in-production" || cfg.JWTSecret == "" {
		panic("JWT_SECRET must be set in environment variables")
	}

	// Real platform adapters register here; PUBLISH_DRY_RUN fills the registry for development.
	application, err := app.NewApp(cfg, nil)
	if err != nil {
		panic(err)
	}

	if err := application.Run(); err != nil {
		panic(err)
	}

	application.Wait()

	if err := application.Shutdown(); err != nil {
		panic(err)
	}
}
