package http

import (
	"errors"
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge"
)

type healthResponse struct {
	Status    string    `json:"status"`
	Database  string    `json:"database"`
	CheckedAt time.Time `json:"checked_at"`
}

// HealthIndexAction reports whether the process can reach its database.
// It always answers 200 so load balancers keep routing; a degraded body
// is the signal for alerting.
func HealthIndexAction(ctx *cartridge.Context) error {
	resp := healthResponse{
		Status:    "ok",
		Database:  "ok",
		CheckedAt: time.Now().UTC(),
	}

	if err := pingDatabase(ctx); err != nil {
		ctx.Logger.Error("Health check cannot reach database", slog.Any("error", err))
		resp.Status = "degraded"
		resp.Database = "unreachable"
	}

	return ctx.JSON(resp)
}

func pingDatabase(ctx *cartridge.Context) error {
	db := ctx.DBManager.GetConnection()
	if db == nil {
		return errors.New("no database connection")
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}
