package services

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	warehouserepo "github.com/kryptonit/mes-backend/internal/data/repos/warehouse"
	types "github.com/kryptonit/mes-backend/internal/domain"
	"github.com/kryptonit/mes-backend/internal/platform/logger"
)

const (
	dashboardRecentMovements = 10
	dashboardTopLabels       = 5
)

type Dashboard struct {
	StatusTotals       []warehouserepo.StatusCount `json:"statusTotals"`
	MovementsToday     int64                       `json:"movementsToday"`
	RecentMovements    []*types.WarehouseMovement  `json:"recentMovements"`
	TopLabels          []warehouserepo.LabelStock  `json:"topLabels"`
	ActiveReservations int64                       `json:"activeReservations"`
}

type Rankings struct {
	Period string                     `json:"period"`
	Since  *time.Time                 `json:"since"`
	Users  []warehouserepo.RankingRow `json:"users"`
}

type AnalyticsService interface {
	Dashboard(ctx context.Context) (*Dashboard, error)
	Rankings(ctx context.Context, period string) (*Rankings, error)
}

type analyticsService struct {
	log       *logger.Logger
	boxes     warehouserepo.BoxRepo
	movements warehouserepo.MovementRepo
	now       func() time.Time
}

func NewAnalyticsService(log *logger.Logger, boxes warehouserepo.BoxRepo, movements warehouserepo.MovementRepo) AnalyticsService {
	return &analyticsService{
		log:       log.With("service", "AnalyticsService"),
		boxes:     boxes,
		movements: movements,
		now:       time.Now,
	}
}

func (s *analyticsService) Dashboard(ctx context.Context) (*Dashboard, error) {
	now := s.now()
	var d Dashboard
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		d.StatusTotals, err = s.boxes.CountByStatus(gctx, nil)
		return err
	})
	g.Go(func() (err error) {
		d.MovementsToday, err = s.movements.CountSince(gctx, nil, startOfDay(now))
		return err
	})
	g.Go(func() (err error) {
		d.RecentMovements, err = s.movements.Recent(gctx, nil, dashboardRecentMovements)
		return err
	})
	g.Go(func() (err error) {
		d.TopLabels, err = s.boxes.TopLabels(gctx, nil, dashboardTopLabels)
		return err
	})
	g.Go(func() (err error) {
		d.ActiveReservations, err = s.boxes.CountActiveReservations(gctx, nil, now)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *analyticsService) Rankings(ctx context.Context, period string) (*Rankings, error) {
	period, since := periodStart(period, s.now())
	rows, err := s.movements.Rankings(ctx, nil, since)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []warehouserepo.RankingRow{}
	}
	return &Rankings{Period: period, Since: since, Users: rows}, nil
}

// periodStart maps day|week|month|year|all to the start of that period in
// local time; unknown values mean week, and all has no lower bound.
func periodStart(period string, now time.Time) (string, *time.Time) {
	today := startOfDay(now)
	var start time.Time
	switch period {
	case "day":
		start = today
	case "month":
		start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	case "year":
		start = time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, now.Location())
	case "all":
		return period, nil
	default:
		period = "week"
		weekday := int(now.Weekday())
		if weekday == 0 {
			weekday = 7
		}
		start = today.AddDate(0, 0, -(weekday - 1))
	}
	return period, &start
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
