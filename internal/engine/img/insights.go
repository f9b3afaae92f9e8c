package img

import (
	"fmt"
	"strconv"
	"strings"
)

func buildInsights(details []Detail) []Insight {
	if len(details) == 0 {
		return nil
	}

	values := flattenDetails(details)
	var insights []Insight

	if gps := gpsInsight(values); gps != nil {
		insights = append(insights, *gps, Insight{
			Kind:    "Location",
			Message: "Exact coordinates can reveal home, workplace, or travel patterns.",
		})
	}
	if device := deviceInsight(values); device != nil {
		insights = append(insights, *device)
	}
	if ts := timestampInsight(values); ts != nil {
		insights = append(insights, *ts, Insight{
			Kind:    "Timeline",
			Message: "Capture timestamps can expose routines and time zones.",
		})
	}
	for _, d := range details {
		if d.Category == CategoryIdentifier {
			insights = append(insights, Insight{Kind: "Identifier", Message: "Unique device identifiers (serial numbers) are present."})
			break
		}
	}
	return insights
}

func flattenDetails(details []Detail) map[string][]string {
	values := make(map[string][]string)
	for _, d := range details {
		for _, entry := range d.Values {
			key, value, ok := strings.Cut(entry, "=")
			if !ok || strings.TrimSpace(key) == "" {
				continue
			}
			key = strings.TrimSpace(key)
			values[key] = append(values[key], strings.TrimSpace(value))
		}
	}
	return values
}

func first(values map[string][]string, keys ...string) string {
	for _, k := range keys {
		if list := values[k]; len(list) > 0 && list[0] != "" {
			return list[0]
		}
	}
	return ""
}

func gpsInsight(values map[string][]string) *Insight {
	lat, okLat := parseGPSCoordinate(first(values, "GPSLatitude"))
	lon, okLon := parseGPSCoordinate(first(values, "GPSLongitude"))
	if !okLat || !okLon {
		return nil
	}
	if strings.HasPrefix(first(values, "GPSLatitudeRef"), "S") {
		lat = -lat
	}
	if strings.HasPrefix(first(values, "GPSLongitudeRef"), "W") {
		lon = -lon
	}
	return &Insight{Kind: "Location", Message: fmt.Sprintf("Approx location: %.5f, %.5f", lat, lon)}
}

func deviceInsight(values map[string][]string) *Insight {
	device := strings.TrimSpace(first(values, "Make") + " " + first(values, "Model"))
	if device == "" {
		device = first(values, "CameraModelName")
	}
	if device == "" {
		return nil
	}

	msg := "Device: " + device
	if kind := deviceType(strings.ToLower(device)); kind != "" {
		msg += fmt.Sprintf(" (%s)", kind)
	}
	return &Insight{Kind: "Device", Message: msg}
}

func timestampInsight(values map[string][]string) *Insight {
	ts := first(values, "DateTimeOriginal", "DateTimeDigitized", "DateTime", "tIME")
	if ts == "" {
		return nil
	}
	// EXIF dates use colons in the date part: 2024:01:02 03:04:05.
	formatted := strings.Replace(ts, ":", "-", 2)
	return &Insight{Kind: "Timeline", Message: fmt.Sprintf("Captured: %s (timezone unknown)", formatted)}
}

// parseGPSCoordinate accepts a decimal or a degrees/minutes/seconds list of
// rationals such as "[51/1 30/1 2645/100]".
func parseGPSCoordinate(raw string) (float64, bool) {
	raw = strings.Trim(strings.TrimSpace(raw), "[]")
	parts := strings.Fields(strings.ReplaceAll(raw, ",", " "))
	if len(parts) == 0 {
		return 0, false
	}

	var total float64
	divisor := 1.0
	for i, part := range parts {
		if i > 2 {
			break
		}
		v, ok := parseRational(part)
		if !ok {
			return 0, false
		}
		total += v / divisor
		divisor *= 60
	}
	return total, true
}

func parseRational(part string) (float64, bool) {
	num, den, isRatio := strings.Cut(strings.TrimSpace(part), "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, false
	}
	if !isRatio {
		return n, true
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0, false
	}
	return n / d, true
}

func deviceType(device string) string {
	has := func(subs ...string) bool {
		for _, s := range subs {
			if strings.Contains(device, s) {
				return true
			}
		}
		return false
	}
	switch {
	case has("iphone", "pixel", "galaxy", "android"):
		return "smartphone"
	case has("ipad", "tablet"):
		return "tablet"
	case has("gopro"):
		return "action camera"
	case has("dji"):
		return "drone"
	case has("canon", "nikon", "sony", "fujifilm", "panasonic", "olympus", "leica"):
		return "camera"
	default:
		return ""
	}
}
