package worker

import (
	"context"
	"time"

	userrepo "github.com/kryptonit/mes-backend/internal/data/repos/user"
	"github.com/kryptonit/mes-backend/internal/platform/logger"
	"github.com/kryptonit/mes-backend/internal/services"
)

const (
	TaskReleaseExpiredReservations = "release-expired-reservations"
	TaskCloseStaleSessions         = "close-stale-sessions"
)

func ReleaseExpiredReservations(log *logger.Logger, reservations services.ReservationService, interval time.Duration) Task {
	return Task{
		Name:     TaskReleaseExpiredReservations,
		Interval: interval,
		Run: func(ctx context.Context) error {
			n, err := reservations.ReleaseExpired(ctx, time.Now())
			if err != nil {
				return err
			}
			if n > 0 {
				log.Info("Released expired reservations", "count", n)
			}
			return nil
		},
	}
}

// CloseStaleSessions marks sessions offline once they have been open longer than staleAfter.
func CloseStaleSessions(log *logger.Logger, sessions userrepo.SessionRepo, staleAfter, interval time.Duration) Task {
	return Task{
		Name:     TaskCloseStaleSessions,
		Interval: interval,
		Run: func(ctx context.Context) error {
			now := time.Now()
			n, err := sessions.CloseStartedBefore(ctx, nil, now.Add(-staleAfter), now)
			if err != nil {
				return err
			}
			if n > 0 {
				log.Info("Closed stale sessions", "count", n)
			}
			return nil
		},
	}
}
