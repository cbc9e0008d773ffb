package entity

import "strings"

// Gateway device registry data.
const (
	Manufacturer = "Bosch"
	Model        = "EasyControl"
)

// GatewayDevice is the parent device every other device hangs off.
func GatewayDevice(uuid string) Device {
	return Device{
		Identifier:   uuid,
		Name:         "EasyControl (POINTTAPI) " + uuid,
		Manufacturer: Manufacturer,
		Model:        Model,
	}
}

func zoneDevice(uuid string) Device {
	return Device{
		Identifier: uuid + "_" + zoneID,
		Name:       "Zone " + zoneID,
		ViaDevice:  uuid,
	}
}

func waterHeaterDevice(uuid string) Device {
	return Device{
		Identifier: uuid + "_dhw1",
		Name:       "Water heater",
		ViaDevice:  uuid,
	}
}

// deviceForPath puts zone paths on the zone device and everything else on
// the gateway.
func deviceForPath(uuid, path string) Device {
	if strings.HasPrefix(path, "/zones") {
		return zoneDevice(uuid)
	}

	return GatewayDevice(uuid)
}

// Catalog builds every entity for one gateway. entryID scopes unique ids;
// uuid identifies the gateway device. The order is stable: climate, water
// heater, sensors, numbers, switches, selects.
func Catalog(entryID, uuid string) []Entity {
	out := make([]Entity, 0, 2+len(sensorDefs)+len(numberDefs)+1+len(switchDefs)+len(selectDefs))

	out = append(out, newClimate(entryID, uuid), newWaterHeater(entryID, uuid))

	for _, d := range sensorDefs {
		out = append(out, newSensor(entryID, uuid, d))
	}

	for _, d := range numberDefs {
		out = append(out, newNumber(entryID, uuid, d))
	}

	out = append(out, newBoostSwitch(entryID, uuid))

	for _, d := range switchDefs {
		out = append(out, newSwitch(entryID, uuid, d))
	}

	for _, d := range selectDefs {
		out = append(out, newSelect(entryID, uuid, d))
	}

	return out
}

// Find returns the entity with uniqueID.
func Find(entities []Entity, uniqueID string) (Entity, bool) {
	for _, e := range entities {
		if e.UniqueID() == uniqueID {
			return e, true
		}
	}

	return nil, false
}
