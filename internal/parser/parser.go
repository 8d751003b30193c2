// Package parser extracts inverter readings from a data logger status page.
//
// Solis Wi-Fi loggers render their status page with the live values embedded
// as JavaScript string assignments, e.g. var webdata_now_p = "1500";. The
// parser pulls every such assignment out of the page's script elements and
// maps the known keys onto a device.Reading.
package parser

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/sbaerlocher/solis-exporter/internal/errors"
	"github.com/sbaerlocher/solis-exporter/pkg/device"
)

// Status page variable names.
const (
	KeyPower       = "webdata_now_p"
	KeyEnergyToday = "webdata_today_e"
	KeyEnergyTotal = "webdata_total_e"
	KeyRatedPower  = "webdata_rate_p"
	KeyUptime      = "webdata_utime"
	KeyAlarm       = "webdata_alarm"
	KeyStatusA     = "status_a"
	KeyStatusB     = "status_b"
	KeyStatusC     = "status_c"
	KeyStaRSSI     = "cover_sta_rssi"
)

// UnknownLabel is reported for label values the page does not provide.
const UnknownLabel = "unknown"

var (
	varRegex     = regexp.MustCompile(`\bvar\s+([A-Za-z0-9_]+)\s*=\s*"([^"]*)"\s*;`)
	percentRegex = regexp.MustCompile(`(\d+(?:\.\d+)?)`)
)

// Parse reads a status page and returns the reading it contains. Missing
// optional fields are not an error. A page that carries none of power,
// energy today and energy total fails with errors.ErrNoMandatoryField.
func Parse(body []byte) (device.Reading, error) {
	vars, err := Vars(body)
	if err != nil {
		return device.Reading{}, err
	}

	reading := FromVars(vars)
	if !reading.HasMandatoryField() {
		return reading, fmt.Errorf("%w (found %d variables)", errors.ErrNoMandatoryField, len(vars))
	}
	return reading, nil
}

// Vars returns every var assignment found in the page's script elements.
// Pages without script elements are scanned as plain text, which some logger
// firmwares serve as a bare JavaScript file.
func Vars(body []byte) (map[string]string, error) {
	scripts, err := scriptText(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("tokenizing status page: %w", err)
	}
	if len(scripts) == 0 {
		scripts = body
	}

	out := make(map[string]string)
	for _, m := range varRegex.FindAllSubmatch(scripts, -1) {
		out[string(m[1])] = string(m[2])
	}
	return out, nil
}

func scriptText(r io.Reader) ([]byte, error) {
	var buf bytes.Buffer
	z := html.NewTokenizer(r)
	inScript := false

	for {
		switch z.Next() {
		case html.ErrorToken:
			if z.Err() == io.EOF {
				return buf.Bytes(), nil
			}
			return nil, z.Err()
		case html.StartTagToken:
			name, _ := z.TagName()
			if atom.Lookup(name) == atom.Script {
				inScript = true
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if atom.Lookup(name) == atom.Script {
				inScript = false
				buf.WriteByte('\n')
			}
		case html.TextToken:
			if inScript {
				buf.Write(z.Text())
			}
		}
	}
}

// FromVars maps status page variables onto a reading.
func FromVars(vars map[string]string) device.Reading {
	r := device.Reading{
		PowerWatts:      toFloat(vars, KeyPower),
		EnergyTodayKWh:  toFloat(vars, KeyEnergyToday),
		EnergyTotalKWh:  toFloat(vars, KeyEnergyTotal),
		RatedPowerWatts: positiveOrUnknown(toFloat(vars, KeyRatedPower)),
		UptimeSeconds:   positiveOrUnknown(toFloat(vars, KeyUptime)),
		RemoteStatusA:   statusFlag(vars[KeyStatusA]),
		RemoteStatusB:   statusFlag(vars[KeyStatusB]),
		RemoteStatusC:   statusFlag(vars[KeyStatusC]),
		StaRSSIPercent:  percent(vars[KeyStaRSSI]),
	}

	if cleanLabel(vars[KeyAlarm], "") != "" {
		r.AlarmPresent = 1
	}

	r.Network = device.NetworkInfo{
		WMode:   label(vars, "cover_wmode"),
		APSSID:  label(vars, "cover_ap_ssid"),
		APIP:    label(vars, "cover_ap_ip"),
		APMAC:   label(vars, "cover_ap_mac"),
		STASSID: label(vars, "cover_sta_ssid"),
		STAIP:   label(vars, "cover_sta_ip"),
		STAMAC:  label(vars, "cover_sta_mac"),
	}
	r.Device = device.DeviceInfo{
		Serial:        label(vars, "webdata_sn"),
		MainFirmware:  label(vars, "webdata_msvn"),
		SlaveFirmware: label(vars, "webdata_ssvn"),
		PVType:        label(vars, "webdata_pv_type"),
		CoverMID:      label(vars, "cover_mid"),
		CoverVersion:  label(vars, "cover_ver"),
	}

	return r
}

// ParseFloat parses a logger number. Loggers with a European locale emit a
// decimal comma.
func ParseFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func toFloat(vars map[string]string, key string) *float64 {
	v, ok := vars[key]
	if !ok {
		return nil
	}
	f, ok := ParseFloat(v)
	if !ok {
		return nil
	}
	return &f
}

func positiveOrUnknown(f *float64) float64 {
	if f == nil || *f <= 0 {
		return -1
	}
	return *f
}

func statusFlag(s string) float64 {
	switch strings.TrimSpace(s) {
	case "1":
		return 1
	case "0":
		return 0
	default:
		return -1
	}
}

func percent(s string) float64 {
	m := percentRegex.FindString(strings.TrimSpace(s))
	if m == "" {
		return -1
	}
	f, ok := ParseFloat(m)
	if !ok {
		return -1
	}
	return f
}

func label(vars map[string]string, key string) string {
	v, ok := vars[key]
	if !ok {
		return UnknownLabel
	}
	return cleanLabel(v, UnknownLabel)
}

// cleanLabel normalizes page text for use as a label value. Loggers may
// report SSIDs in Latin-1 or GBK, so invalid UTF-8 is replaced.
func cleanLabel(s, def string) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	s = strings.TrimSpace(strings.NewReplacer("\n", " ", "\r", " ").Replace(s))
	if s == "" {
		return def
	}
	return s
}
