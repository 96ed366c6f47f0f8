package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/heatflow/oilshop-backend/pkg/auth"
	"github.com/heatflow/oilshop-backend/pkg/auth/session"
	"github.com/heatflow/oilshop-backend/pkg/config"
	"github.com/heatflow/oilshop-backend/pkg/enums"
	"github.com/heatflow/oilshop-backend/pkg/logger"
	"github.com/heatflow/oilshop-backend/pkg/redis"
)

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "admin-token"})

	_ = godotenv.Load()

	cmd := flag.String("cmd", "mint", "command: mint|revoke")
	subject := flag.String("subject", "", "operator identity recorded as actor (for mint)")
	role := flag.String("role", string(enums.OperatorRoleAdmin), "operator role: admin|viewer")
	shopList := flag.String("shops", "", "comma separated shop ids the token is limited to; empty allows all")
	tokenID := flag.String("id", "", "token id to revoke (for revoke)")
	flag.Parse()

	cfg, err := config.LoadTokenTool()
	requireResource(ctx, logg, "config", err)

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	requireResource(ctx, logg, "redis", err)
	defer redisClient.Close()

	sessions, err := session.NewManager(redisClient, cfg.JWT)
	requireResource(ctx, logg, "session manager", err)

	switch *cmd {
	case "mint":
		parsedRole, err := enums.ParseOperatorRole(*role)
		if err != nil {
			fail("invalid -role: %v", err)
		}
		token, claims, err := auth.MintOperatorToken(cfg.JWT, time.Now().UTC(), auth.OperatorPayload{
			Subject: *subject,
			Role:    parsedRole,
			Shops:   splitShops(*shopList),
		})
		if err != nil {
			fail("mint token: %v", err)
		}
		if err := sessions.Register(ctx, claims.ID, claims.Subject); err != nil {
			fail("register token: %v", err)
		}
		logg.Info(logg.WithFields(ctx, map[string]any{
			"token_id":   claims.ID,
			"subject":    claims.Subject,
			"role":       string(claims.Role),
			"expires_at": claims.ExpiresAt.Time,
		}), "operator token minted")
		fmt.Println(token)

	case "revoke":
		if strings.TrimSpace(*tokenID) == "" {
			fail("missing -id for revoke")
		}
		if err := sessions.Revoke(ctx, *tokenID); err != nil {
			fail("revoke token: %v", err)
		}
		fmt.Println("revoked", *tokenID)

	default:
		fail("unknown -cmd value: %s", *cmd)
	}
}

func splitShops(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
