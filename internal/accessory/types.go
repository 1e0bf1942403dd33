package accessory

// Service types.
const (
	ServiceAccessoryInformation = "AccessoryInformation"
	ServiceThermostat           = "Thermostat"
	ServiceFan                  = "Fanv2"
	ServiceHumiditySensor       = "HumiditySensor"
	ServiceTemperatureSensor    = "TemperatureSensor"
	ServiceLeakSensor           = "LeakSensor"
	ServiceBattery              = "Battery"
	ServiceMotionSensor         = "MotionSensor"
	ServiceOccupancySensor      = "OccupancySensor"
	ServiceValve                = "Valve"
)

// Characteristic types.
const (
	Name             = "Name"
	Manufacturer     = "Manufacturer"
	Model            = "Model"
	SerialNumber     = "SerialNumber"
	FirmwareRevision = "FirmwareRevision"

	CurrentTemperature          = "CurrentTemperature"
	TargetTemperature           = "TargetTemperature"
	HeatingThresholdTemperature = "HeatingThresholdTemperature"
	CoolingThresholdTemperature = "CoolingThresholdTemperature"
	CurrentHeatingCoolingState  = "CurrentHeatingCoolingState"
	TargetHeatingCoolingState   = "TargetHeatingCoolingState"
	TemperatureDisplayUnits     = "TemperatureDisplayUnits"
	CurrentRelativeHumidity     = "CurrentRelativeHumidity"

	Active         = "Active"
	TargetFanState = "TargetFanState"

	LeakDetected      = "LeakDetected"
	StatusActive      = "StatusActive"
	BatteryLevel      = "BatteryLevel"
	StatusLowBattery  = "StatusLowBattery"
	ChargingState     = "ChargingState"
	MotionDetected    = "MotionDetected"
	OccupancyDetected = "OccupancyDetected"

	InUse     = "InUse"
	ValveType = "ValveType"
)

// Enumerated values shared by several characteristics.
const (
	StateOff  = 0
	StateHeat = 1
	StateCool = 2
	StateAuto = 3

	UnitsCelsius    = 0
	UnitsFahrenheit = 1

	FanManual = 0
	FanAuto   = 1

	Inactive  = 0
	IsActive  = 1
	NotInUse  = 0
	IsInUse   = 1
	LeakNone  = 0
	LeakFound = 1

	BatteryNormal = 0
	BatteryLow    = 1

	NotChargeable = 2

	GenericValve = 0
)
