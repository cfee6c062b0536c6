package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/fleetops/config"
	"github.com/kilianp07/fleetops/core/model"
	"github.com/kilianp07/fleetops/infra/logger"
	"github.com/kilianp07/fleetops/infra/store"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Populate the entity database with a demo fleet",
	RunE:  seed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

func seed(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.Configure(cfg.Logging)
	log := logger.New("seed")

	s, err := store.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store %s: %w", cfg.Store.Path, err)
	}
	defer func() {
		if err := s.Close(); err != nil {
			log.Errorf("store close: %v", err)
		}
	}()

	ctx := context.Background()
	company, err := s.CreateCompany(ctx, model.Company{Name: "Demo Logistics"})
	if err != nil {
		return fmt.Errorf("create company: %w", err)
	}

	drivers := []model.Driver{
		{CompanyID: company.ID, Name: "Alex Martin", Email: "alex@demo.test", LicenseNumber: "B-1001", Status: model.DriverActive, IsActive: true},
		{CompanyID: company.ID, Name: "Dana Leroy", Email: "dana@demo.test", LicenseNumber: "B-1002", Status: model.DriverActive, IsActive: true},
		{CompanyID: company.ID, Name: "Sam Chen", Email: "sam@demo.test", LicenseNumber: "B-1003", Status: model.DriverSuspended, IsActive: true},
	}
	var driverIDs []int64
	for _, d := range drivers {
		created, err := s.CreateDriver(ctx, d)
		if err != nil {
			return fmt.Errorf("create driver %s: %w", d.Name, err)
		}
		driverIDs = append(driverIDs, created.ID)
	}

	vehicles := []model.Vehicle{
		{CompanyID: company.ID, Brand: "Renault", Model: "Master", Year: 2022, PlateNumber: "AB-123-CD", Capacity: 3, Status: model.VehicleAvailable, IsActive: true},
		{CompanyID: company.ID, Brand: "Iveco", Model: "Daily", Year: 2021, PlateNumber: "EF-456-GH", Capacity: 3, Status: model.VehicleAvailable, IsActive: true},
		{CompanyID: company.ID, Brand: "Mercedes", Model: "Sprinter", Year: 2020, PlateNumber: "IJ-789-KL", Capacity: 3, Status: model.VehicleMaintenance, IsActive: true},
	}
	var vehicleIDs []int64
	for _, v := range vehicles {
		created, err := s.CreateVehicle(ctx, v)
		if err != nil {
			return fmt.Errorf("create vehicle %s %s: %w", v.Brand, v.Model, err)
		}
		vehicleIDs = append(vehicleIDs, created.ID)
	}

	start := time.Now().Add(time.Hour).UTC().Truncate(time.Minute)
	trip := model.Trip{
		CompanyID:   company.ID,
		DriverID:    driverIDs[0],
		VehicleID:   vehicleIDs[0],
		Destination: "Lyon",
		StartAt:     start,
		EndAt:       start.Add(4 * time.Hour),
		Status:      model.TripScheduled,
	}
	if _, err := s.CreateTrip(ctx, trip); err != nil {
		return fmt.Errorf("create trip: %w", err)
	}

	log.Infow("seeded demo fleet", map[string]any{
		"company_id": company.ID,
		"drivers":    len(driverIDs),
		"vehicles":   len(vehicleIDs),
		"trips":      1,
	})
	return nil
}
