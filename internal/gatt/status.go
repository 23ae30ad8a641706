package gatt

import "fmt"

// Status is the status code a transport reports for a discovery procedure event.
// Values follow the NimBLE host numbering: host errors are small integers, ATT
// errors are offset by StatusATTBase and HCI errors by StatusHCIBase.
type Status int

const StatusATTBase Status = 0x100
const StatusHCIBase Status = 0x200

const (
	// StatusOK accompanies every per-item result.
	StatusOK Status = 0

	StatusEAgain      Status = 1
	StatusEAlready    Status = 2
	StatusEInval      Status = 3
	StatusEMsgSize    Status = 4
	StatusENoEnt      Status = 5
	StatusENoMem      Status = 6
	StatusENotConn    Status = 7
	StatusENotSup     Status = 8
	StatusEApp        Status = 9
	StatusEBadData    Status = 10
	StatusEOS         Status = 11
	StatusEController Status = 12
	StatusETimeout    Status = 13

	// StatusDone terminates a procedure that completed successfully.
	StatusDone Status = 14

	StatusEBusy    Status = 15
	StatusEReject  Status = 16
	StatusEUnknown Status = 17
)

// ATT protocol error codes, already offset into the Status space.
const (
	StatusATTInvalidHandle      = StatusATTBase + 0x01
	StatusATTReadNotPermitted   = StatusATTBase + 0x02
	StatusATTInvalidPDU         = StatusATTBase + 0x04
	StatusATTInsufficientAuthen = StatusATTBase + 0x05
	StatusATTReqNotSupported    = StatusATTBase + 0x06
	StatusATTAttrNotFound       = StatusATTBase + 0x0a
	StatusATTInsufficientRes    = StatusATTBase + 0x11
)

var statusNames = map[Status]string{
	StatusOK:          "ok",
	StatusEAgain:      "eagain",
	StatusEAlready:    "ealready",
	StatusEInval:      "einval",
	StatusEMsgSize:    "emsgsize",
	StatusENoEnt:      "enoent",
	StatusENoMem:      "enomem",
	StatusENotConn:    "enotconn",
	StatusENotSup:     "enotsup",
	StatusEApp:        "eapp",
	StatusEBadData:    "ebaddata",
	StatusEOS:         "eos",
	StatusEController: "econtroller",
	StatusETimeout:    "etimeout",
	StatusDone:        "edone",
	StatusEBusy:       "ebusy",
	StatusEReject:     "ereject",
	StatusEUnknown:    "eunknown",

	StatusATTInvalidHandle:      "att_invalid_handle",
	StatusATTReadNotPermitted:   "att_read_not_permitted",
	StatusATTInvalidPDU:         "att_invalid_pdu",
	StatusATTInsufficientAuthen: "att_insufficient_authen",
	StatusATTReqNotSupported:    "att_req_not_supported",
	StatusATTAttrNotFound:       "att_attr_not_found",
	StatusATTInsufficientRes:    "att_insufficient_resources",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	switch {
	case s >= StatusHCIBase && s < StatusHCIBase+0x100:
		return fmt.Sprintf("hci_0x%02x", int(s-StatusHCIBase))
	case s >= StatusATTBase && s < StatusATTBase+0x100:
		return fmt.Sprintf("att_0x%02x", int(s-StatusATTBase))
	default:
		return fmt.Sprintf("status_%d", int(s))
	}
}

// Terminal reports whether s ends a procedure.
func (s Status) Terminal() bool {
	return s != StatusOK
}
