package picam

import (
	"errors"
	"fmt"

	"folio/internal/backend"
)

// ParseMetadata converts raw frame metadata into the archival subset. Missing
// keys are left zero; keys with unexpected types are an error.
func ParseMetadata(raw RawMetadata) (*backend.Metadata, error) {
	if raw == nil {
		return nil, errors.New("no metadata returned")
	}
	md := &backend.Metadata{}
	var err error
	if md.ExposureTime, err = intField(raw, "ExposureTime"); err != nil {
		return nil, err
	}
	if md.AnalogueGain, err = floatField(raw, "AnalogueGain"); err != nil {
		return nil, err
	}
	if md.DigitalGain, err = floatField(raw, "DigitalGain"); err != nil {
		return nil, err
	}
	if md.SensorTimestamp, err = intField(raw, "SensorTimestamp"); err != nil {
		return nil, err
	}
	if md.Lux, err = floatField(raw, "Lux"); err != nil {
		return nil, err
	}
	temp, err := intField(raw, "ColourTemperature")
	if err != nil {
		return nil, err
	}
	md.ColourTemperature = int(temp)
	if _, ok := raw["LensPosition"]; ok {
		lp, err := floatField(raw, "LensPosition")
		if err != nil {
			return nil, err
		}
		md.LensPosition = &lp
	}
	if gains, ok, err := colourGains(raw); err != nil {
		return nil, err
	} else if ok {
		md.ColourGains = &gains
	}
	return md, nil
}

// LensPosition extracts the LensPosition control value.
func LensPosition(raw RawMetadata) (float64, bool) {
	if _, ok := raw["LensPosition"]; !ok {
		return 0, false
	}
	v, err := floatField(raw, "LensPosition")
	return v, err == nil
}

// ColourGains extracts the red/blue gain pair.
func ColourGains(raw RawMetadata) (backend.ColourGain, bool) {
	gains, ok, err := colourGains(raw)
	return gains, ok && err == nil
}

func colourGains(raw RawMetadata) (backend.ColourGain, bool, error) {
	value, ok := raw["ColourGains"]
	if !ok || value == nil {
		return backend.ColourGain{}, false, nil
	}
	pair, ok := value.([]any)
	if !ok || len(pair) != 2 {
		return backend.ColourGain{}, false, fmt.Errorf("ColourGains: expected [red, blue], got %T", value)
	}
	red, ok1 := toFloat(pair[0])
	blue, ok2 := toFloat(pair[1])
	if !ok1 || !ok2 {
		return backend.ColourGain{}, false, fmt.Errorf("ColourGains: non-numeric value %v", pair)
	}
	return backend.ColourGain{Red: red, Blue: blue}, true, nil
}

func floatField(raw RawMetadata, key string) (float64, error) {
	value, ok := raw[key]
	if !ok || value == nil {
		return 0, nil
	}
	f, ok := toFloat(value)
	if !ok {
		return 0, fmt.Errorf("%s: expected number, got %T", key, value)
	}
	return f, nil
}

func intField(raw RawMetadata, key string) (int64, error) {
	f, err := floatField(raw, key)
	return int64(f), err
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}
