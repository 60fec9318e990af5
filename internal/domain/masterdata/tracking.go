package masterdata

// Tracking is how stock of a product is traced
type Tracking string

const (
	TrackingSerial Tracking = "serial"
	TrackingLot    Tracking = "lot"
	TrackingNone   Tracking = "none"
)

// IsValid checks if the tracking mode is valid
func (t Tracking) IsValid() bool {
	switch t {
	case TrackingSerial, TrackingLot, TrackingNone:
		return true
	}
	return false
}
