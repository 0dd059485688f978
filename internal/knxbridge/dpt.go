package knxbridge

import (
	"fmt"

	"github.com/nerrad567/knxtunnel/knxtunnel"
)

// encodeDPT builds the typed DPT value the tunnel core expects for an
// outbound write, given the device's configured DPT name and a plain
// numeric command value.
func encodeDPT(dpt string, value float64) (knxtunnel.DPT, error) {
	switch dpt {
	case "switch", "bool":
		b := knxtunnel.Bit{Value: value != 0}
		return &b, nil
	case "scaling":
		s := knxtunnel.NewScaling(value)
		return &s, nil
	case "angle":
		s := knxtunnel.NewAngle(value)
		return &s, nil
	case "percentU8":
		s := knxtunnel.NewPercentU8(value)
		return &s, nil
	case "temperature":
		f := knxtunnel.NewKnxFloat16(float32(value), knxtunnel.Float16Temperature)
		return &f, nil
	case "humidity":
		f := knxtunnel.NewKnxFloat16(float32(value), knxtunnel.Float16Humidity)
		return &f, nil
	case "lux":
		f := knxtunnel.NewKnxFloat16(float32(value), knxtunnel.Float16Lux)
		return &f, nil
	case "power":
		f := knxtunnel.NewKnxFloat16(float32(value), knxtunnel.Float16Power)
		return &f, nil
	default:
		return nil, fmt.Errorf("unknown dpt %q", dpt)
	}
}

// dptMeasurement names the InfluxDB measurement the telemetry export uses
// for a device's DPT family, so readings with comparable units share one
// measurement.
func dptMeasurement(dpt string) string {
	switch dpt {
	case "switch", "bool":
		return "knx_bit"
	case "scaling", "angle", "percentU8":
		return "knx_scaled_u8"
	case "temperature", "humidity", "lux", "power":
		return "knx_float16"
	default:
		return "knx_value"
	}
}

// decodeDPT reinterprets the raw Opaque payload of an inbound group event
// as the numeric value its configured DPT describes.
func decodeDPT(dpt string, raw []byte) (float64, error) {
	switch dpt {
	case "switch", "bool":
		var b knxtunnel.Bit
		if err := b.Decode(raw); err != nil {
			return 0, err
		}
		if b.Value {
			return 1, nil
		}
		return 0, nil
	case "scaling":
		s := knxtunnel.NewScaling(0)
		if err := s.Decode(raw); err != nil {
			return 0, err
		}
		return s.Value, nil
	case "angle":
		s := knxtunnel.NewAngle(0)
		if err := s.Decode(raw); err != nil {
			return 0, err
		}
		return s.Value, nil
	case "percentU8":
		s := knxtunnel.NewPercentU8(0)
		if err := s.Decode(raw); err != nil {
			return 0, err
		}
		return s.Value, nil
	case "temperature", "humidity", "lux", "power":
		var f knxtunnel.KnxFloat16
		if err := f.Decode(raw); err != nil {
			return 0, err
		}
		return float64(f.Value), nil
	default:
		return 0, fmt.Errorf("unknown dpt %q", dpt)
	}
}
