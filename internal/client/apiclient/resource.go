package apiclient

// Resource names a REST collection under /api.
type Resource string

const (
	Vehicles         Resource = "vehicles"
	Drivers          Resource = "drivers"
	GasStations      Resource = "gas-stations"
	FuelTypes        Resource = "fuel-types"
	MaintenanceTypes Resource = "maintenance-types"
	FuelRecords      Resource = "fuel-records"
	Registrations    Resource = "registrations"
)

// Resources lists every collection the server exposes.
var Resources = []Resource{Vehicles, Drivers, GasStations, FuelTypes, MaintenanceTypes, FuelRecords, Registrations}

// Valid reports whether r is one of the known collections.
func (r Resource) Valid() bool {
	for _, known := range Resources {
		if r == known {
			return true
		}
	}
	return false
}
