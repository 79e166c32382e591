package deps

import (
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/marque-dev/marque/internal/identity"
	"github.com/marque-dev/marque/internal/logger"
	"github.com/marque-dev/marque/internal/reconcile"
)

type Deps struct {
	Logger      logger.Logger
	StartTime   time.Time
	Version     string
	Commit      string
	BuildDate   string
	GoVersion   string
	RedisClient *redis.Client     // used by readiness probe
	Gate        *identity.Gate    // identity resolution and sign-in/out
	Engine      *reconcile.Engine // canonical collection + mutation entry points
}
