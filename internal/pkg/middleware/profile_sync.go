package middleware

import (
	"sync"
	"time"

	"github.com/ManuelReschke/PixelProPortal/app/models"
	"github.com/ManuelReschke/PixelProPortal/app/repository"
	"github.com/ManuelReschke/PixelProPortal/internal/pkg/usercontext"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

// ProfileSync mirrors the caller's token claims into the profiles table so
// notification emails can be addressed. Each user is written at most once
// per interval per process.
func ProfileSync(profiles repository.ProfileRepository, interval time.Duration) fiber.Handler {
	var seen sync.Map // user id -> time.Time of last sync
	return func(c *fiber.Ctx) error {
		uc := usercontext.GetUserContext(c)
		if !uc.IsLoggedIn || uc.UserID == "" {
			return c.Next()
		}
		now := time.Now()
		if last, ok := seen.Load(uc.UserID); ok && now.Sub(last.(time.Time)) < interval {
			return c.Next()
		}

		role := uc.Role
		if role != models.ROLE_ADMIN {
			role = models.ROLE_USER
		}
		if err := profiles.Upsert(&models.Profile{ID: uc.UserID, Email: uc.Email, Role: role}); err != nil {
			log.Warnf("[Profile] Failed to sync profile %s: %v", uc.UserID, err)
		} else {
			seen.Store(uc.UserID, now)
		}
		return c.Next()
	}
}
