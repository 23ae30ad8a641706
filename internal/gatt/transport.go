package gatt

// ServiceFunc receives service discovery events: one call with StatusOK per
// service, then exactly one terminal call (svc == nil) with StatusDone or an error
// status.
type ServiceFunc func(status Status, svc *ServiceDef)

// CharacteristicFunc receives characteristic discovery events, like ServiceFunc.
type CharacteristicFunc func(status Status, chr *CharacteristicDef)

// DescriptorFunc receives descriptor discovery events, like ServiceFunc.
type DescriptorFunc func(status Status, dsc *DescriptorDef)

// Transport issues asynchronous GATT discovery procedures for a connection.
//
// A returned error means the procedure was not started and no callback will
// follow. Otherwise the callback is invoked later, from the goroutine that owns
// the Registry, never from inside the issuing call. Handle ranges are inclusive.
type Transport interface {
	DiscoverServices(conn, start, end uint16, fn ServiceFunc) error
	DiscoverCharacteristics(conn, start, end uint16, fn CharacteristicFunc) error
	DiscoverDescriptors(conn, start, end uint16, fn DescriptorFunc) error
}
