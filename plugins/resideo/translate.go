package resideo

import (
	"math"
	"strings"

	"github.com/joshp123/gohome-resideo/internal/accessory"
)

// Vendor mode strings.
const (
	ModeOff           = "Off"
	ModeHeat          = "Heat"
	ModeCool          = "Cool"
	ModeAuto          = "Auto"
	ModeEmergencyHeat = "EmergencyHeat"

	FanModeAuto      = "Auto"
	FanModeOn        = "On"
	FanModeCirculate = "Circulate"
)

// ToCelsius converts a vendor reading for the host. unit is the
// TemperatureDisplayUnits of the device; Celsius is passed through.
func ToCelsius(value float64, unit int) float64 {
	if unit == accessory.UnitsCelsius {
		return value
	}
	return math.Round((value-32)*5/9*2) / 2
}

// ToFahrenheit converts a host value back for the vendor.
func ToFahrenheit(value float64, unit int) float64 {
	if unit == accessory.UnitsCelsius {
		return value
	}
	return math.Round(value*9/5 + 32)
}

// DisplayUnits maps the vendor "units" field.
func DisplayUnits(units string) int {
	if strings.EqualFold(units, "Fahrenheit") {
		return accessory.UnitsFahrenheit
	}
	return accessory.UnitsCelsius
}

// HostMode maps a vendor mode to TargetHeatingCoolingState.
func HostMode(mode string) int {
	switch mode {
	case ModeHeat, ModeEmergencyHeat:
		return accessory.StateHeat
	case ModeCool:
		return accessory.StateCool
	case ModeAuto:
		return accessory.StateAuto
	default:
		return accessory.StateOff
	}
}

// VendorMode is the inverse of HostMode.
func VendorMode(state int) string {
	switch state {
	case accessory.StateHeat:
		return ModeHeat
	case accessory.StateCool:
		return ModeCool
	case accessory.StateAuto:
		return ModeAuto
	default:
		return ModeOff
	}
}

// CurrentState maps operationStatus.mode to CurrentHeatingCoolingState.
func CurrentState(operation string) int {
	switch operation {
	case "Heat":
		return accessory.StateHeat
	case "Cool":
		return accessory.StateCool
	default:
		return accessory.StateOff
	}
}

// TargetModes lists the TargetHeatingCoolingState values a device may be
// offered. Auto is only present when the device allows it or showAuto is set.
func TargetModes(allowed []string, showAuto bool) []int {
	seen := map[int]bool{}
	out := []int{}
	add := func(v int) {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	for _, m := range []string{ModeOff, ModeHeat, ModeCool, ModeAuto} {
		for _, a := range allowed {
			if a == m || (m == ModeHeat && a == ModeEmergencyHeat) {
				add(HostMode(m))
			}
		}
	}
	if showAuto {
		add(accessory.StateAuto)
	}
	if len(out) == 0 {
		add(accessory.StateOff)
	}
	return out
}

// FanTargetState maps the vendor fan mode to TargetFanState.
func FanTargetState(mode string) int {
	if mode == FanModeAuto {
		return accessory.FanAuto
	}
	return accessory.FanManual
}

// VendorFanMode picks the fan mode for a host target state. A manual fan
// that is switched off circulates when the device supports it.
func VendorFanMode(target, active int, allowed []string) string {
	if target == accessory.FanAuto {
		return FanModeAuto
	}
	if active == accessory.Inactive {
		for _, m := range allowed {
			if m == FanModeCirculate {
				return FanModeCirculate
			}
		}
		return FanModeAuto
	}
	return FanModeOn
}
