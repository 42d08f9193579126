package scte35

const (
	segmentationDescriptorTag = 0x02

	// cueIdentifier is the ASCII "CUEI" registration in every SCTE-35
	// descriptor body.
	cueIdentifier = 0x43554549
)

// Segmentation is a decoded segmentation_descriptor.
type Segmentation struct {
	EventID  uint32
	Cancel   bool
	TypeID   uint8
	Duration *uint64
	UPID     []byte
	Num      uint8
	Expected uint8
}

var segmentationTypeNames = map[uint8]string{
	0x00: "Not Indicated",
	0x01: "Content Identification",
	0x10: "Program Start",
	0x11: "Program End",
	0x12: "Program Early Termination",
	0x13: "Program Breakaway",
	0x14: "Program Resumption",
	0x15: "Program Runover Planned",
	0x16: "Program Runover Unplanned",
	0x17: "Program Overlap Start",
	0x18: "Program Blackout Override",
	0x19: "Program Start - In Progress",
	0x20: "Chapter Start",
	0x21: "Chapter End",
	0x22: "Break Start",
	0x23: "Break End",
	0x24: "Opening Credit Start",
	0x25: "Opening Credit End",
	0x26: "Closing Credit Start",
	0x27: "Closing Credit End",
	0x30: "Provider Advertisement Start",
	0x31: "Provider Advertisement End",
	0x32: "Distributor Advertisement Start",
	0x33: "Distributor Advertisement End",
	0x34: "Provider Placement Opportunity Start",
	0x35: "Provider Placement Opportunity End",
	0x36: "Distributor Placement Opportunity Start",
	0x37: "Distributor Placement Opportunity End",
	0x38: "Provider Overlay Placement Opportunity Start",
	0x39: "Provider Overlay Placement Opportunity End",
	0x3A: "Distributor Overlay Placement Opportunity Start",
	0x3B: "Distributor Overlay Placement Opportunity End",
	0x3C: "Provider Promo Start",
	0x3D: "Provider Promo End",
	0x3E: "Distributor Promo Start",
	0x3F: "Distributor Promo End",
	0x40: "Unscheduled Event Start",
	0x41: "Unscheduled Event End",
	0x42: "Alternate Content Opportunity Start",
	0x43: "Alternate Content Opportunity End",
	0x44: "Provider Ad Block Start",
	0x45: "Provider Ad Block End",
	0x46: "Distributor Ad Block Start",
	0x47: "Distributor Ad Block End",
	0x50: "Network Start",
	0x51: "Network End",
}

// TypeName returns the Table 22 name of the segmentation type.
func (s Segmentation) TypeName() string {
	if name, ok := segmentationTypeNames[s.TypeID]; ok {
		return name
	}
	return "Unknown"
}

// decodeDescriptorLoop walks tag/length pairs and decodes every CUEI
// segmentation descriptor. Other tags and registrations are skipped.
func decodeDescriptorLoop(loop []byte) ([]Segmentation, error) {
	var segs []Segmentation
	for off := 0; off+2 <= len(loop); {
		tag := loop[off]
		length := int(loop[off+1])
		end := off + 2 + length
		if end > len(loop) {
			break
		}
		body := loop[off+2 : end]
		if tag == segmentationDescriptorTag && len(body) >= 4 {
			ident := uint32(body[0])<<24 | uint32(body[1])<<16 | uint32(body[2])<<8 | uint32(body[3])
			if ident == cueIdentifier {
				segs = append(segs, decodeSegmentation(body))
			}
		}
		off = end
	}
	return segs, nil
}

func decodeSegmentation(body []byte) Segmentation {
	r := &reader{data: body}
	r.skip(32) // identifier

	s := Segmentation{}
	s.EventID = uint32(r.uint(32))
	s.Cancel = r.bit()
	r.skip(1) // segmentation_event_id_compliance_indicator
	r.skip(6)
	if s.Cancel {
		return s
	}

	programSegmentation := r.bit()
	hasDuration := r.bit()
	r.bit()   // delivery_not_restricted_flag
	r.skip(5) // restriction flags or reserved

	if !programSegmentation {
		componentCount := int(r.uint(8))
		for i := 0; i < componentCount; i++ {
			r.skip(8 + 7 + 33)
		}
	}
	if hasDuration {
		dur := r.uint(40)
		s.Duration = &dur
	}

	r.skip(8) // segmentation_upid_type
	upidLen := int(r.uint(8))
	if upidLen > 0 && upidLen*8 <= r.left() {
		s.UPID = r.bytes(upidLen)
	} else {
		r.skip(upidLen * 8)
	}
	s.TypeID = uint8(r.uint(8))
	s.Num = uint8(r.uint(8))
	s.Expected = uint8(r.uint(8))
	return s
}
