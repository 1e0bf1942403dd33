package resideo

// Vendor device classes as reported by discovery.
const (
	ClassThermostat   = "Thermostat"
	ClassLeakDetector = "LeakDetector"
	ClassShutoffValve = "ShutoffValve"

	// Derived from thermostat room groups.
	ClassRoomSensor           = "RoomSensor"
	ClassRoomSensorThermostat = "RoomSensorThermostat"
)

type Location struct {
	LocationID int      `json:"locationID"`
	Name       string   `json:"name"`
	Devices    []Device `json:"devices"`
}

// Device is the union of the thermostat, leak detector and valve payloads.
type Device struct {
	DeviceID              string `json:"deviceID"`
	DeviceClass           string `json:"deviceClass"`
	DeviceType            string `json:"deviceType"`
	DeviceModel           string `json:"deviceModel"`
	Name                  string `json:"name"`
	UserDefinedDeviceName string `json:"userDefinedDeviceName"`
	MacID                 string `json:"macID"`
	IsAlive               bool   `json:"isAlive"`
	FirmwareVersion       string `json:"firmwareVersion,omitempty"`

	// Thermostat.
	Units             string           `json:"units,omitempty"`
	IndoorTemperature float64          `json:"indoorTemperature,omitempty"`
	IndoorHumidity    *float64         `json:"indoorHumidity,omitempty"`
	AllowedModes      []string         `json:"allowedModes,omitempty"`
	MinHeatSetpoint   float64          `json:"minHeatSetpoint,omitempty"`
	MaxHeatSetpoint   float64          `json:"maxHeatSetpoint,omitempty"`
	MinCoolSetpoint   float64          `json:"minCoolSetpoint,omitempty"`
	MaxCoolSetpoint   float64          `json:"maxCoolSetpoint,omitempty"`
	ChangeableValues  ChangeableValues `json:"changeableValues"`
	OperationStatus   OperationStatus  `json:"operationStatus"`
	Settings          *Settings        `json:"settings,omitempty"`
	Groups            []Group          `json:"groups,omitempty"`

	// Leak detector.
	WaterPresent          bool           `json:"waterPresent,omitempty"`
	BatteryRemaining      *float64       `json:"batteryRemaining,omitempty"`
	HasDeviceCheckedIn    bool           `json:"hasDeviceCheckedIn,omitempty"`
	CurrentSensorReadings *SensorReading `json:"currentSensorReadings,omitempty"`

	// Shutoff valve.
	ActuatorValve *ActuatorValve `json:"actuatorValve,omitempty"`
}

// DisplayName prefers the user-assigned name.
func (d Device) DisplayName() string {
	if d.UserDefinedDeviceName != "" {
		return d.UserDefinedDeviceName
	}
	if d.Name != "" {
		return d.Name
	}
	return d.DeviceID
}

type ChangeableValues struct {
	Mode                     string  `json:"mode,omitempty"`
	HeatCoolMode             string  `json:"heatCoolMode,omitempty"`
	HeatSetpoint             float64 `json:"heatSetpoint,omitempty"`
	CoolSetpoint             float64 `json:"coolSetpoint,omitempty"`
	AutoChangeoverActive     *bool   `json:"autoChangeoverActive,omitempty"`
	ThermostatSetpointStatus string  `json:"thermostatSetpointStatus,omitempty"`
	NextPeriodTime           string  `json:"nextPeriodTime,omitempty"`
}

type OperationStatus struct {
	Mode                  string `json:"mode,omitempty"`
	FanRequest            bool   `json:"fanRequest,omitempty"`
	CirculationFanRequest bool   `json:"circulationFanRequest,omitempty"`
}

type Settings struct {
	Fan *FanSettings `json:"fan,omitempty"`
}

type FanSettings struct {
	AllowedModes     []string `json:"allowedModes,omitempty"`
	ChangeableValues struct {
		Mode string `json:"mode,omitempty"`
	} `json:"changeableValues"`
}

type Group struct {
	ID    int   `json:"id"`
	Rooms []int `json:"rooms,omitempty"`
}

type SensorReading struct {
	Temperature *float64 `json:"temperature,omitempty"`
	Humidity    *float64 `json:"humidity,omitempty"`
}

type ActuatorValve struct {
	ValveStatus   string `json:"valveStatus"`
	CommandSource string `json:"commandSource,omitempty"`
}

// FanStatus is the thermostat fan sub-resource.
type FanStatus struct {
	AllowedModes     []string `json:"allowedModes"`
	ChangeableValues struct {
		Mode string `json:"mode"`
	} `json:"changeableValues"`
	FanRunning bool `json:"fanRunning"`
}

// ThermostatCommand is the full setpoint payload. Every push sends all of it.
type ThermostatCommand struct {
	Mode                     string  `json:"mode"`
	HeatSetpoint             float64 `json:"heatSetpoint"`
	CoolSetpoint             float64 `json:"coolSetpoint"`
	ThermostatSetpointStatus string  `json:"thermostatSetpointStatus,omitempty"`
	NextPeriodTime           string  `json:"nextPeriodTime,omitempty"`
	AutoChangeoverActive     *bool   `json:"autoChangeoverActive,omitempty"`
}

type Priority struct {
	DeviceID        string          `json:"deviceId"`
	Status          string          `json:"status"`
	CurrentPriority CurrentPriority `json:"currentPriority"`
}

type CurrentPriority struct {
	PriorityType  string `json:"priorityType"`
	SelectedRooms []int  `json:"selectedRooms"`
}

// RoomGroup is the room sensor snapshot for one thermostat group.
type RoomGroup struct {
	DeviceID string `json:"deviceId"`
	GroupID  int    `json:"groupId"`
	Rooms    []Room `json:"rooms"`
}

type Room struct {
	ID             int             `json:"id"`
	Name           string          `json:"name"`
	AvgTemperature float64         `json:"avgTemperature"`
	AvgHumidity    float64         `json:"avgHumidity"`
	Accessories    []RoomAccessory `json:"accessories"`
}

type RoomAccessory struct {
	ID        int                `json:"id"`
	Type      string             `json:"type"`
	Attribute AccessoryAttribute `json:"accessoryAttribute"`
	Value     AccessoryValue     `json:"accessoryValue"`
}

type AccessoryAttribute struct {
	Type             string `json:"type"`
	Name             string `json:"name"`
	Model            string `json:"model"`
	SerialNumber     string `json:"serialNumber"`
	SoftwareRevision string `json:"softwareRevision"`
}

type AccessoryValue struct {
	IndoorTemperature float64 `json:"indoorTemperature"`
	IndoorHumidity    float64 `json:"indoorHumidity"`
	MotionDet         bool    `json:"motionDet"`
	OccupancyDet      bool    `json:"occupancyDet"`
	Status            string  `json:"status"`
	BatteryStatus     string  `json:"batteryStatus"`
}

// Sensor looks up a room accessory by id.
func (g RoomGroup) Sensor(accessoryID int) (Room, RoomAccessory, bool) {
	for _, room := range g.Rooms {
		for _, acc := range room.Accessories {
			if acc.ID == accessoryID {
				return room, acc, true
			}
		}
	}
	return Room{}, RoomAccessory{}, false
}
