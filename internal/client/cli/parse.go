package cli

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/fleetsync/internal/client/registrations"
)

var errUsage = errors.New("usage")

// splitFields splits a command line on blanks. Double quotes group words,
// so description="oil and filter" stays one argument.
func splitFields(line string) ([]string, error) {
	var (
		out     []string
		cur     strings.Builder
		quoted  bool
		pending bool
	)
	for _, r := range line {
		switch {
		case r == '"':
			quoted = !quoted
			pending = true
		case (r == ' ' || r == '\t') && !quoted:
			if pending {
				out = append(out, cur.String())
				cur.Reset()
				pending = false
			}
		default:
			cur.WriteRune(r)
			pending = true
		}
	}
	if quoted {
		return nil, errors.New("unterminated quote")
	}
	if pending {
		out = append(out, cur.String())
	}
	return out, nil
}

// parseKeyValues turns key=value arguments into a map. Later keys win.
func parseKeyValues(args []string) (map[string]string, error) {
	kv := make(map[string]string, len(args))
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("%w: expected key=value, got %q", errUsage, arg)
		}
		kv[k] = v
	}
	return kv, nil
}

// applyFields sets registration fields by their JSON names. vehicle and
// driver are accepted as short forms of vehicleId and driverId.
func applyFields(r *registrations.Registration, kv map[string]string) error {
	for k, v := range kv {
		var err error
		switch k {
		case "date":
			r.Date = v
		case "vehicle", "vehicleId":
			r.VehicleID, err = strconv.ParseInt(v, 10, 64)
		case "driver", "driverId":
			r.DriverID, err = strconv.ParseInt(v, 10, 64)
		case "liters":
			r.Liters, err = strconv.ParseFloat(v, 64)
		case "fuelCost":
			r.FuelCost, err = strconv.ParseFloat(v, 64)
		case "fuelTypeId":
			r.FuelTypeID, err = strconv.ParseInt(v, 10, 64)
		case "gasStationId":
			r.GasStationID, err = strconv.ParseInt(v, 10, 64)
		case "odometer":
			r.Odometer, err = strconv.ParseInt(v, 10, 64)
		case "maintenanceTypeId":
			r.MaintenanceTypeID, err = strconv.ParseInt(v, 10, 64)
		case "cost":
			r.Cost, err = strconv.ParseFloat(v, 64)
		case "description":
			r.Description = v
		case "origin":
			r.Origin = v
		case "destination":
			r.Destination = v
		case "startOdometer":
			r.StartOdometer, err = strconv.ParseInt(v, 10, 64)
		case "endOdometer":
			r.EndOdometer, err = strconv.ParseInt(v, 10, 64)
		default:
			return fmt.Errorf("unknown field %q", k)
		}
		if err != nil {
			return fmt.Errorf("field %s: %w", k, err)
		}
	}
	return nil
}

// newRegistration builds a registration of the given type from key=value
// arguments. The date defaults to today.
func newRegistration(typ string, args []string, today time.Time) (registrations.Registration, error) {
	r := registrations.Registration{Type: registrations.Type(typ), Date: today.Format(registrations.DateLayout)}
	kv, err := parseKeyValues(args)
	if err != nil {
		return r, err
	}
	if err := applyFields(&r, kv); err != nil {
		return r, err
	}
	return r, nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

// cutFlag removes a boolean flag from args and reports whether it was there.
func cutFlag(args []string, name string) ([]string, bool) {
	out := make([]string, 0, len(args))
	found := false
	for _, a := range args {
		if a == name {
			found = true
			continue
		}
		out = append(out, a)
	}
	return out, found
}

// cutValue removes "name value" or "name=value" from args.
func cutValue(args []string, name string) ([]string, string, error) {
	out := make([]string, 0, len(args))
	value := ""
	for i := 0; i < len(args); i++ {
		a := args[i]
		if v, ok := strings.CutPrefix(a, name+"="); ok {
			value = v
			continue
		}
		if a == name {
			if i+1 >= len(args) {
				return nil, "", fmt.Errorf("%w: %s needs a value", errUsage, name)
			}
			value = args[i+1]
			i++
			continue
		}
		out = append(out, a)
	}
	return out, value, nil
}
