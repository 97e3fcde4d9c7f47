package model

import "math"

// BedCounts holds the number of beds per status.
type BedCounts struct {
	Total       int
	Available   int
	Occupied    int
	Maintenance int
	Reserved    int
}

// OccupancyStats is the dashboard summary of bed usage.
type OccupancyStats struct {
	TotalBeds         int     `json:"total_beds"`
	OccupiedBeds      int     `json:"occupied_beds"`
	AvailableBeds     int     `json:"available_beds"`
	MaintenanceBeds   int     `json:"maintenance_beds"`
	ReservedBeds      int     `json:"reserved_beds"`
	TotalPatients     int     `json:"total_patients"`
	CurrentAdmissions int     `json:"current_admissions"`
	OccupancyRate     float64 `json:"occupancy_rate"`
}

// NewOccupancyStats assembles the summary.  OccupancyRate is the occupied
// share of all beds in percent, rounded to one decimal.
func NewOccupancyStats(c BedCounts, patients, admissions int) OccupancyStats {
	s := OccupancyStats{
		TotalBeds:         c.Total,
		OccupiedBeds:      c.Occupied,
		AvailableBeds:     c.Available,
		MaintenanceBeds:   c.Maintenance,
		ReservedBeds:      c.Reserved,
		TotalPatients:     patients,
		CurrentAdmissions: admissions,
	}
	if c.Total > 0 {
		s.OccupancyRate = math.Round(float64(c.Occupied)*1000/float64(c.Total)) / 10
	}
	return s
}
