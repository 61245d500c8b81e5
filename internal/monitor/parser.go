package monitor

import (
	"bytes"
	"encoding/json"
	"fmt"

	"netifmon/internal/models"
)

// wireDirection and wireSample mirror the objects printed by `vnstat -l --json`.
// Pointers distinguish a missing field from a zero value.
type wireDirection struct {
	RateString       *string `json:"ratestring"`
	BytesPerSecond   *int64  `json:"bytespersecond"`
	PacketsPerSecond *int64  `json:"packetspersecond"`
	Bytes            *int64  `json:"bytes"`
	Packets          *int64  `json:"packets"`
	TotalBytes       *int64  `json:"totalbytes"`
	TotalPackets     *int64  `json:"totalpackets"`
}

type wireSample struct {
	Index   *int64         `json:"index"`
	Seconds *int64         `json:"seconds"`
	RX      *wireDirection `json:"rx"`
	TX      *wireDirection `json:"tx"`
}

// ParseLine decodes one line of live sampler output. The header object vnstat
// prints before the first sample is reported as ErrParse like any other line
// that does not carry traffic counters.
func ParseLine(line []byte) (models.StatsSample, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return models.StatsSample{}, fmt.Errorf("%w: empty line", ErrParse)
	}

	var w wireSample
	if err := json.Unmarshal(line, &w); err != nil {
		return models.StatsSample{}, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if w.Seconds == nil {
		return models.StatsSample{}, fmt.Errorf("%w: missing seconds", ErrParse)
	}

	rx, err := w.RX.toModel("rx")
	if err != nil {
		return models.StatsSample{}, err
	}
	tx, err := w.TX.toModel("tx")
	if err != nil {
		return models.StatsSample{}, err
	}

	sample := models.StatsSample{
		Seconds: *w.Seconds,
		RX:      rx,
		TX:      tx,
	}
	if w.Index != nil {
		sample.Index = *w.Index
	}
	return sample, nil
}

func (d *wireDirection) toModel(dir string) (models.TrafficDirection, error) {
	if d == nil {
		return models.TrafficDirection{}, fmt.Errorf("%w: missing %s", ErrParse, dir)
	}
	if d.BytesPerSecond == nil || d.PacketsPerSecond == nil ||
		d.Bytes == nil || d.Packets == nil ||
		d.TotalBytes == nil || d.TotalPackets == nil {
		return models.TrafficDirection{}, fmt.Errorf("%w: incomplete %s counters", ErrParse, dir)
	}

	out := models.TrafficDirection{
		BytesPerSecond:   *d.BytesPerSecond,
		PacketsPerSecond: *d.PacketsPerSecond,
		Bytes:            *d.Bytes,
		Packets:          *d.Packets,
		TotalBytes:       *d.TotalBytes,
		TotalPackets:     *d.TotalPackets,
	}
	if d.RateString != nil {
		out.RateString = models.Truncate(*d.RateString, models.MaxRateStringLen)
	}
	return out, nil
}
